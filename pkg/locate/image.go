// Package locate loads the debugging information of one ELF binary and
// answers location queries against it: which expression describes a
// variable at a given PC, what the frame base of a function is, which
// split unit a skeleton compilation unit refers to.
package locate

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/dwloc/dwloc/pkg/config"
	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/dwarf/loclist"
	"github.com/dwloc/dwloc/pkg/dwarf/op"
	"github.com/dwloc/dwloc/pkg/dwarf/split"
	"github.com/dwloc/dwloc/pkg/logflags"
)

const treeCacheSize = 128

// Image represents the debugging information of one loaded binary.
type Image struct {
	Path string

	// StaticBase is the address at which the image is loaded; zero for
	// an image inspected in place.
	StaticBase uint64

	// CFA holds the providers used to resolve DW_OP_call_frame_cfa,
	// tried in order. Empty means no CFI is available.
	CFA []op.CFASource

	// OnEmptyRange is called for every empty location list entry
	// encountered while iterating ranges. The default logs at debug
	// level.
	OnEmptyRange func(tree *godwarf.Tree, e *loclist.Entry)

	dw      *dwarf.Data
	closer  *elf.File
	etRel   bool
	ptrSize int

	units []*split.Unit
	cus   []*cuData
	res   *split.Resolver

	loclist2  *loclist.Dwarf2Reader
	loclist5  *loclist.Dwarf5Reader
	debugAddr *godwarf.DebugAddrSection

	treeCache *lru.Cache
	log       *logrus.Entry
}

// cuData is the per compilation unit state needed to evaluate location
// attributes of DIEs belonging to it.
type cuData struct {
	unit     *split.Unit
	rootOff  dwarf.Offset
	lowPC    uint64
	addrBase uint64
	version  uint8
}

const _DW_AT_addr_base dwarf.Attr = 0x73

// Open loads the debugging information of the ELF binary at path.
// Split debug files are searched in the directory of the binary first,
// then under each of the configured debug-info-directories.
func Open(path string, conf *config.Config) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	bi, err := newImage(path, f, conf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return bi, nil
}

func newImage(path string, f *elf.File, conf *config.Config) (*Image, error) {
	bi := &Image{
		Path:    path,
		closer:  f,
		etRel:   f.Type == elf.ET_REL,
		ptrSize: 8,
		log:     logflags.LocateLogger(),
	}
	if f.Class == elf.ELFCLASS32 {
		bi.ptrSize = 4
	}
	bi.OnEmptyRange = func(tree *godwarf.Tree, e *loclist.Entry) {
		bi.log.Debugf("empty location range [%#x, %#x) for DIE %#x", e.LowPC, e.HighPC, tree.Offset)
	}

	info, err := godwarf.GetDebugSection(f, "info")
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	abbrev, err := godwarf.GetDebugSection(f, "abbrev")
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	str, _ := godwarf.GetDebugSection(f, "str")
	line, _ := godwarf.GetDebugSection(f, "line")
	ranges, _ := godwarf.GetDebugSection(f, "ranges")

	bi.dw, err = dwarf.New(abbrev, nil, nil, info, line, nil, ranges, str)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	for _, sec := range []string{"str_offsets", "line_str", "rnglists", "addr"} {
		if data, err := godwarf.GetDebugSection(f, sec); err == nil {
			if err := bi.dw.AddSection(".debug_"+sec, data); err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
		}
	}

	if data, err := godwarf.GetDebugSection(f, "loc"); err == nil {
		bi.loclist2 = loclist.NewDwarf2Reader(data, bi.ptrSize)
	}
	if data, err := godwarf.GetDebugSection(f, "loclists"); err == nil {
		bi.loclist5 = loclist.NewDwarf5Reader(data)
	}
	if data, err := godwarf.GetDebugSection(f, "addr"); err == nil {
		bi.debugAddr = godwarf.ParseAddr(data)
	}

	bi.units, err = split.LoadUnits(bi.dw, info, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if err := bi.loadCUs(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	roots := []string{filepath.Dir(path)}
	if conf != nil {
		roots = append(roots, conf.DebugInfoDirectories...)
	}
	bi.res = split.NewResolver(roots, nil)

	bi.treeCache, err = lru.New(treeCacheSize)
	if err != nil {
		return nil, err
	}

	return bi, nil
}

// loadCUs reads the root DIE of every unit and records the state needed
// by location queries: root offset, unit low PC, debug_addr base.
func (bi *Image) loadCUs() error {
	rdr := bi.dw.Reader()
	for _, u := range bi.units {
		e, err := rdr.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		cu := &cuData{unit: u, rootOff: e.Offset, version: u.Version}
		cu.lowPC, _ = e.Val(dwarf.AttrLowpc).(uint64)
		if base, ok := e.Val(_DW_AT_addr_base).(int64); ok {
			cu.addrBase = uint64(base)
		}
		bi.cus = append(bi.cus, cu)
		rdr.SkipChildren()
	}
	return nil
}

// Close releases the underlying file.
func (bi *Image) Close() error {
	return bi.closer.Close()
}

// DwarfData returns the parsed debug_info of the image.
func (bi *Image) DwarfData() *dwarf.Data {
	return bi.dw
}

// Units returns the compilation units of the image, in section order.
func (bi *Image) Units() []*split.Unit {
	return bi.units
}

// ResolveSplit returns the split unit of u, loading and linking it on
// first use. It returns nil if u has no split unit.
func (bi *Image) ResolveSplit(u *split.Unit) *split.Unit {
	return bi.res.Resolve(u)
}

// cuFor returns the compilation unit containing the DIE at off.
func (bi *Image) cuFor(off dwarf.Offset) *cuData {
	i := sort.Search(len(bi.cus), func(i int) bool {
		return bi.cus[i].unit.Offset > uint64(off)
	})
	if i == 0 {
		return nil
	}
	return bi.cus[i-1]
}

// LoadTree returns the DIE tree rooted at off, with ranges resolved and
// abstract origins loaded. Trees are cached.
func (bi *Image) LoadTree(off dwarf.Offset) (*godwarf.Tree, error) {
	if tree, ok := bi.treeCache.Get(off); ok {
		return tree.(*godwarf.Tree), nil
	}
	tree, err := godwarf.LoadTree(off, bi.dw, bi.StaticBase)
	if err != nil {
		return nil, err
	}
	bi.treeCache.Add(off, tree)
	return tree, nil
}

func (bi *Image) entryAt(off dwarf.Offset) (*dwarf.Entry, error) {
	rdr := bi.dw.Reader()
	rdr.Seek(off)
	e, err := rdr.Next()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("no DIE at offset %#x", off)
	}
	return e, nil
}
