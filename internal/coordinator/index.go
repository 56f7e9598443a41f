package coordinator

import (
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// FileState is the lifecycle state of a FileRecord.
type FileState int

const (
	// StateStoring means replicas are being written and acks collected
	StateStoring FileState = iota
	// StateStored means R replicas acknowledged the file
	StateStored
	// StateRemoving means removal was dispatched to the replicas
	StateRemoving
)

func (s FileState) String() string {
	switch s {
	case StateStoring:
		return "storing"
	case StateStored:
		return "stored"
	case StateRemoving:
		return "removing"
	default:
		return "unknown"
	}
}

// portSet is a set of storage node ports.
type portSet map[int]struct{}

func newPortSet(ports ...int) portSet {
	s := make(portSet, len(ports))
	for _, p := range ports {
		s[p] = struct{}{}
	}
	return s
}

func (s portSet) add(p int)    { s[p] = struct{}{} }
func (s portSet) remove(p int) { delete(s, p) }

func (s portSet) has(p int) bool {
	_, ok := s[p]
	return ok
}

func (s portSet) sorted() []int {
	out := make([]int, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// FileRecord is the controller's view of one file.
//
// Every field below mu is guarded by mu. A record that has been deleted from
// the index keeps deleted set; holders of a stale pointer must treat it as
// absent.
type FileRecord struct {
	// Name is the record's key in the index. Immutable.
	Name string

	// Size is the declared file size in bytes. Immutable.
	Size int64

	// requester receives STORE_COMPLETE or ERROR_STORE. Immutable.
	requester *cluster.Conn

	// stored is closed when the record reaches StateStored.
	stored chan struct{}

	// gone is closed when the record is deleted from the index.
	gone chan struct{}

	mu       sync.Mutex
	state    FileState
	replicas portSet // nodes assigned to hold the file
	unusable portSet // replicas excluded from load selection
	acked    portSet // replicas that sent STORE_ACK
	deleted  bool
}

func newFileRecord(name string, size int64, requester *cluster.Conn, replicas []int) *FileRecord {
	return &FileRecord{
		Name:      name,
		Size:      size,
		requester: requester,
		stored:    make(chan struct{}),
		gone:      make(chan struct{}),
		state:     StateStoring,
		replicas:  newPortSet(replicas...),
		unusable:  newPortSet(),
		acked:     newPortSet(),
	}
}

// FileInfo is an immutable snapshot of a FileRecord.
type FileInfo struct {
	Name     string
	Size     int64
	State    FileState
	Replicas []int
	Unusable []int
	Acks     int
}

// Info returns a consistent snapshot of the record, or false if it has been
// deleted.
func (r *FileRecord) Info() (FileInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return FileInfo{}, false
	}
	return FileInfo{
		Name:     r.Name,
		Size:     r.Size,
		State:    r.state,
		Replicas: r.replicas.sorted(),
		Unusable: r.unusable.sorted(),
		Acks:     len(r.acked),
	}, true
}

// FileIndex maps file names to records. It guarantees at most one record per
// name.
//
// Lock order: a record's mu may be held while taking the index lock, never
// the other way round. Methods that touch record state therefore copy the
// record list under the index lock and lock records afterwards.
type FileIndex struct {
	mu    sync.RWMutex
	files map[string]*FileRecord
}

// NewFileIndex creates an empty index.
func NewFileIndex() *FileIndex {
	return &FileIndex{files: make(map[string]*FileRecord)}
}

// Insert adds rec, failing with cluster.ErrFileAlreadyExists if any record
// (in any state) already uses the name.
func (x *FileIndex) Insert(rec *FileRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, exists := x.files[rec.Name]; exists {
		return cluster.ErrFileAlreadyExists
	}
	x.files[rec.Name] = rec
	return nil
}

// Get returns the record for name, or nil.
func (x *FileIndex) Get(name string) *FileRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.files[name]
}

// Len returns the number of records.
func (x *FileIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.files)
}

// Records returns every record sorted by name.
func (x *FileIndex) Records() []*FileRecord {
	x.mu.RLock()
	out := make([]*FileRecord, 0, len(x.files))
	for _, rec := range x.files {
		out = append(out, rec)
	}
	x.mu.RUnlock()
	slices.SortFunc(out, func(a, b *FileRecord) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Names returns the sorted names of records currently in state.
func (x *FileIndex) Names(state FileState) []string {
	var names []string
	for _, rec := range x.Records() {
		rec.mu.Lock()
		if !rec.deleted && rec.state == state {
			names = append(names, rec.Name)
		}
		rec.mu.Unlock()
	}
	return names
}

// Snapshot returns info for every live record, sorted by name.
func (x *FileIndex) Snapshot() []FileInfo {
	var out []FileInfo
	for _, rec := range x.Records() {
		if info, ok := rec.Info(); ok {
			out = append(out, info)
		}
	}
	return out
}

// deleteLocked removes rec from the index. The caller holds rec.mu.
func (x *FileIndex) deleteLocked(rec *FileRecord) {
	if rec.deleted {
		return
	}
	rec.deleted = true
	close(rec.gone)

	x.mu.Lock()
	if x.files[rec.Name] == rec {
		delete(x.files, rec.Name)
	}
	x.mu.Unlock()
}
