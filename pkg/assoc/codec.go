package assoc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Snapshot stream format (little endian):
//
//	magic   [4]byte  "MUN1"
//	version uint16   currently 1
//	flags   uint16   reserved, must be 0
//	count   uint32   number of edges
//	edges   count ×  fixed-width record + length-prefixed context entries
//	digest  [32]byte BLAKE2b-256 of everything before it
//
// The digest trailer makes truncated or bit-flipped files fail cleanly on
// Load instead of half-populating the matrix.

// Persistence errors.
var (
	ErrCorrupted  = errors.New("assoc: corrupted or truncated snapshot")
	ErrBadVersion = errors.New("assoc: unsupported snapshot version")
)

var snapshotMagic = [4]byte{'M', 'U', 'N', '1'}

const (
	snapshotVersion = uint16(1)
	digestSize      = blake2b.Size256
	maxContextDims  = 1 << 12 // sanity bound per edge
)

// Save writes every live edge to path as a checksummed binary snapshot.
//
// The write happens to a temp file first and renames into place, so a
// crash mid-save never clobbers an existing snapshot. A context profile
// wider than maxContextDims is truncated to its highest-weight
// dimensions, keeping the snapshot loadable.
func (m *Matrix) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("assoc: creating snapshot: %w", err)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("assoc: initializing digest: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := io.MultiWriter(buf, hash)

	writeErr := func() error {
		if _, err := w.Write(snapshotMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}

		edges := m.allSnapshots()
		if err := binary.Write(w, binary.LittleEndian, uint32(len(edges))); err != nil {
			return err
		}
		for i := range edges {
			if n := len(edges[i].Context); n > maxContextDims {
				edges[i].Context = truncateContext(edges[i].Context)
				m.logger.Warn("context profile truncated",
					zap.Uint64("source", uint64(edges[i].Source)),
					zap.Uint64("target", uint64(edges[i].Target)),
					zap.Int("dims", n))
			}
			if err := writeEdge(w, &edges[i]); err != nil {
				return err
			}
		}

		// Digest trailer goes to the file only, not into the hash.
		if _, err := buf.Write(hash.Sum(nil)); err != nil {
			return err
		}
		return buf.Flush()
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("assoc: writing snapshot: %w", writeErr)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("assoc: closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("assoc: publishing snapshot: %w", err)
	}

	m.logger.Info("snapshot saved", zap.String("path", path), zap.Int("edges", m.Count()))
	return nil
}

// Load reads a snapshot written by Save and replaces the matrix contents.
//
// The file is fully parsed and digest-verified before any mutation: a
// truncated or corrupt snapshot fails with ErrCorrupted and leaves the
// matrix untouched. An unknown format version fails with ErrBadVersion.
func (m *Matrix) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("assoc: reading snapshot: %w", err)
	}
	if len(data) < len(snapshotMagic)+4+4+digestSize {
		return ErrCorrupted
	}

	body := data[:len(data)-digestSize]
	want := data[len(data)-digestSize:]
	hash, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("assoc: initializing digest: %w", err)
	}
	hash.Write(body)
	if !bytes.Equal(hash.Sum(nil), want) {
		return ErrCorrupted
	}

	r := bytes.NewReader(body)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != snapshotMagic {
		return ErrCorrupted
	}
	var version, flags uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return ErrCorrupted
	}
	if version != snapshotVersion {
		return ErrBadVersion
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil || flags != 0 {
		return ErrCorrupted
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return ErrCorrupted
	}

	edges := make([]*Edge, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEdge(r)
		if err != nil {
			return ErrCorrupted
		}
		edges = append(edges, e)
	}
	if r.Len() != 0 {
		return ErrCorrupted
	}

	// Parse succeeded; swap contents in under the write lock.
	m.mu.Lock()
	m.slots = m.slots[:0]
	m.free = nil
	m.bySource = make(map[pattern.PatternID][]int)
	m.byTarget = make(map[pattern.PatternID][]int)
	m.byPair = make(map[pairKey]int, len(edges))
	m.byType = make(map[Type][]int)
	m.live = 0
	m.mu.Unlock()

	loaded := 0
	for _, e := range edges {
		if m.AddAssociation(e) {
			loaded++
		}
	}

	m.logger.Info("snapshot loaded", zap.String("path", path), zap.Int("edges", loaded))
	return nil
}

// allSnapshots captures every live edge in slot order.
func (m *Matrix) allSnapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, m.live)
	for _, e := range m.slots {
		if e == nil {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// truncateContext keeps the maxContextDims highest-weight dimensions so
// a saved snapshot always round-trips through Load.
func truncateContext(ctx map[string]float64) map[string]float64 {
	names := make([]string, 0, len(ctx))
	for name := range ctx {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if ctx[names[i]] != ctx[names[j]] {
			return ctx[names[i]] > ctx[names[j]]
		}
		return names[i] < names[j]
	})
	kept := make(map[string]float64, maxContextDims)
	for _, name := range names[:maxContextDims] {
		kept[name] = ctx[name]
	}
	return kept
}

// writeEdge serializes one edge record.
func writeEdge(w io.Writer, s *Snapshot) error {
	fields := []any{
		uint64(s.Source),
		uint64(s.Target),
		uint8(s.Type),
		math.Float64bits(s.Strength),
		s.CoOccurrenceCount,
		math.Float64bits(s.TemporalCorrelation),
		math.Float64bits(s.DecayRate),
		s.LastReinforcement.UnixNano(),
		s.CreatedAt.UnixNano(),
		uint16(len(s.Context)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for name, weight := range s.Context {
		if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, math.Float64bits(weight)); err != nil {
			return err
		}
	}
	return nil
}

// readEdge deserializes one edge record.
func readEdge(r io.Reader) (*Edge, error) {
	var (
		source, target     uint64
		typ                uint8
		strengthBits       uint64
		coOccurrence       uint32
		temporalBits       uint64
		decayBits          uint64
		lastReinf, created int64
		ctxCount           uint16
	)
	for _, f := range []any{
		&source, &target, &typ, &strengthBits, &coOccurrence,
		&temporalBits, &decayBits, &lastReinf, &created, &ctxCount,
	} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	if Type(typ) >= numTypes {
		return nil, ErrCorrupted
	}
	if ctxCount > maxContextDims {
		return nil, ErrCorrupted
	}

	e := NewEdge(pattern.PatternID(source), pattern.PatternID(target), Type(typ),
		math.Float64frombits(strengthBits))
	e.DecayRate = math.Float64frombits(decayBits)
	e.CreatedAt = time.Unix(0, created)
	e.coOccurrence.Store(coOccurrence)
	e.SetTemporalCorrelation(math.Float64frombits(temporalBits))
	e.lastReinf.Store(lastReinf)

	for i := uint16(0); i < ctxCount; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		var weightBits uint64
		if err := binary.Read(r, binary.LittleEndian, &weightBits); err != nil {
			return nil, err
		}
		e.SetContextWeight(string(name), math.Float64frombits(weightBits))
	}
	return e, nil
}
