package split

import (
	"debug/dwarf"
	"debug/elf"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/logflags"
)

// OpenFunc opens the file at path and returns its compilation units.
// The closer is closed by the resolver once the scan is done.
type OpenFunc func(path string) ([]*Unit, io.Closer, error)

// Resolver finds the split unit of a skeleton and links the two.
// Resolution is cached on the unit itself: only the first call for a
// unit touches the filesystem.
type Resolver struct {
	searchRoots []string
	open        OpenFunc
	log         *logrus.Entry
}

// NewResolver returns a Resolver that looks for .dwo files under each
// of searchRoots. A nil open uses the default ELF opener.
func NewResolver(searchRoots []string, open OpenFunc) *Resolver {
	if open == nil {
		open = OpenELF
	}
	return &Resolver{searchRoots: searchRoots, open: open, log: logflags.SplitLogger()}
}

// Resolve returns the split unit of u, or nil if u has none. Split
// DWARF is an optional optimization: missing files, unreadable files
// and signature mismatches all resolve to nil. On a match the link is
// mutual, u.Split() and the returned unit's Skeleton() point at each
// other.
func (r *Resolver) Resolve(u *Unit) *Unit {
	if u == nil {
		return nil
	}
	if u.resolved {
		return u.link
	}
	u.resolved = true

	if u.Kind != KindSkeleton || u.DwoName == "" {
		return nil
	}

	for _, root := range r.searchRoots {
		candidates := []string{filepath.Join(root, u.DwoName)}
		if u.CompDir != "" {
			candidates = append(candidates, filepath.Join(root, u.CompDir, u.DwoName))
		}
		for _, path := range candidates {
			if sp := r.scan(path, u.Sig); sp != nil {
				u.link = sp
				sp.link = u
				sp.resolved = true
				return sp
			}
		}
	}

	return nil
}

func (r *Resolver) scan(path string, sig Signature) *Unit {
	units, closer, err := r.open(path)
	if err != nil {
		r.log.Debugf("skipping %s: %v", path, err)
		return nil
	}
	defer closer.Close()

	for _, sp := range units {
		if sp.Kind == KindSplitCompile && MatchSignature(sp.Sig, sig) {
			return sp
		}
	}
	r.log.Debugf("no unit with signature %#x in %s", uint64(sig), path)
	return nil
}

// OpenELF is the default opener: it reads the compilation units of the
// ELF file at path, preferring the .dwo variants of the debug sections.
func OpenELF(path string) ([]*Unit, io.Closer, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	units, err := loadELFUnits(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return units, f, nil
}

func loadELFUnits(f *elf.File) ([]*Unit, error) {
	inSplitFile := true
	info, err := godwarf.GetDebugSection(f, "info.dwo")
	if err != nil {
		inSplitFile = false
		info, err = godwarf.GetDebugSection(f, "info")
		if err != nil {
			return nil, err
		}
	}
	abbrev := splitSection(f, "abbrev", inSplitFile)
	str := splitSection(f, "str", inSplitFile)

	dw, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, str)
	if err != nil {
		return nil, err
	}
	if strOffsets := splitSection(f, "str_offsets", inSplitFile); strOffsets != nil {
		// Ignored when unsupported; names are cosmetic here.
		_ = dw.AddSection(".debug_str_offsets", strOffsets)
	}

	return LoadUnits(dw, info, inSplitFile)
}

func splitSection(f *elf.File, name string, inSplitFile bool) []byte {
	if inSplitFile {
		if data, err := godwarf.GetDebugSection(f, name+".dwo"); err == nil {
			return data
		}
	}
	data, err := godwarf.GetDebugSection(f, name)
	if err != nil {
		return nil
	}
	return data
}
