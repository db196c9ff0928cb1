package sgxfeatures

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"iter"
)

// stnUndef terminates a hash chain.
const stnUndef = 0

// imageView is a bounds-checked window over an ELF image mapped in memory.
// Every structure is decoded through it; nothing is dereferenced directly.
type imageView struct {
	b     []byte
	order binary.ByteOrder
}

func (v imageView) slice(off, n uint64) ([]byte, error) {
	size := uint64(len(v.b))
	if off > size || n > size-off {
		return nil, fmt.Errorf("range [%#x, %#x+%#x) outside image of %#x bytes", off, off, n, size)
	}
	return v.b[off : off+n], nil
}

func (v imageView) decode(off uint64, data any) error {
	b, err := v.slice(off, uint64(binary.Size(data)))
	if err != nil {
		return err
	}
	_, err = binary.Decode(b, v.order, data)
	return err
}

// SymbolTable holds the dynamic symbol, string and hash tables of an ELF
// image. The slices alias the image; nothing is copied.
type SymbolTable struct {
	order   binary.ByteOrder
	symtab  []byte
	strtab  []byte
	hashtab []uint32
}

// Symbol is one resolved dynamic symbol.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Type  elf.SymType
	Bind  elf.SymBind
}

// ResolveSymbolTable locates the dynamic symbol table of a 64-bit ELF image:
// ELF header, then program headers, then the PT_DYNAMIC segment, then the
// DT_SYMTAB, DT_STRTAB and DT_HASH entries. Dynamic addresses are turned into
// image offsets using the first PT_LOAD segment. All failures wrap
// ErrSymbolTableNotFound.
func ResolveSymbolTable(image []byte) (*SymbolTable, error) {
	st, err := resolveSymbolTable(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSymbolTableNotFound, err)
	}
	return st, nil
}

func resolveSymbolTable(image []byte) (*SymbolTable, error) {
	if len(image) < elf.EI_NIDENT || !bytes.HasPrefix(image, []byte(elf.ELFMAG)) {
		return nil, fmt.Errorf("not an ELF image")
	}
	if c := elf.Class(image[elf.EI_CLASS]); c != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported ELF class %s", c)
	}

	v := imageView{b: image}
	switch d := elf.Data(image[elf.EI_DATA]); d {
	case elf.ELFDATA2LSB:
		v.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		v.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown ELF data encoding %s", d)
	}

	var hdr elf.Header64
	if err := v.decode(0, &hdr); err != nil {
		return nil, fmt.Errorf("ELF header: %w", err)
	}
	if hdr.Phentsize < uint16(binary.Size(elf.Prog64{})) {
		return nil, fmt.Errorf("program header entry size %d too small", hdr.Phentsize)
	}

	var dynamic, load *elf.Prog64
	for i := uint64(0); i < uint64(hdr.Phnum); i++ {
		var ph elf.Prog64
		if err := v.decode(hdr.Phoff+i*uint64(hdr.Phentsize), &ph); err != nil {
			return nil, fmt.Errorf("program header %d: %w", i, err)
		}
		switch elf.ProgType(ph.Type) {
		case elf.PT_DYNAMIC:
			if dynamic == nil {
				dynamic = &ph
			}
		case elf.PT_LOAD:
			if load == nil {
				load = &ph
			}
		}
	}
	if dynamic == nil {
		return nil, fmt.Errorf("no PT_DYNAMIC segment")
	}

	var bias uint64
	if load != nil {
		bias = load.Vaddr - load.Off
	}
	toOffset := func(tag elf.DynTag, addr uint64) (uint64, error) {
		if addr < bias {
			return 0, fmt.Errorf("%s address %#x below load bias %#x", tag, addr, bias)
		}
		return addr - bias, nil
	}

	tags := map[elf.DynTag]uint64{}
	dynSize := uint64(binary.Size(elf.Dyn64{}))
	for off := dynamic.Off; off+dynSize <= dynamic.Off+dynamic.Filesz; off += dynSize {
		var d elf.Dyn64
		if err := v.decode(off, &d); err != nil {
			return nil, fmt.Errorf("dynamic entry: %w", err)
		}
		tag := elf.DynTag(d.Tag)
		if tag == elf.DT_NULL {
			break
		}
		switch tag {
		case elf.DT_SYMTAB, elf.DT_STRTAB, elf.DT_HASH, elf.DT_STRSZ, elf.DT_SYMENT:
			if _, seen := tags[tag]; !seen {
				tags[tag] = d.Val
			}
		}
	}
	for _, tag := range []elf.DynTag{elf.DT_SYMTAB, elf.DT_STRTAB, elf.DT_HASH} {
		if _, ok := tags[tag]; !ok {
			return nil, fmt.Errorf("no %s entry", tag)
		}
	}

	st := &SymbolTable{order: v.order}

	hashOff, err := toOffset(elf.DT_HASH, tags[elf.DT_HASH])
	if err != nil {
		return nil, err
	}
	var counts [2]uint32
	if err := v.decode(hashOff, &counts); err != nil {
		return nil, fmt.Errorf("hash table header: %w", err)
	}
	nbucket, nchain := uint64(counts[0]), uint64(counts[1])
	raw, err := v.slice(hashOff, 4*(2+nbucket+nchain))
	if err != nil {
		return nil, fmt.Errorf("hash table: %w", err)
	}
	st.hashtab = make([]uint32, 2+nbucket+nchain)
	if _, err := binary.Decode(raw, v.order, st.hashtab); err != nil {
		return nil, fmt.Errorf("hash table: %w", err)
	}

	symSize := uint64(elf.Sym64Size)
	if ent, ok := tags[elf.DT_SYMENT]; ok && ent != symSize {
		return nil, fmt.Errorf("unexpected symbol entry size %d", ent)
	}
	symOff, err := toOffset(elf.DT_SYMTAB, tags[elf.DT_SYMTAB])
	if err != nil {
		return nil, err
	}
	if st.symtab, err = v.slice(symOff, nchain*symSize); err != nil {
		return nil, fmt.Errorf("symbol table: %w", err)
	}

	strOff, err := toOffset(elf.DT_STRTAB, tags[elf.DT_STRTAB])
	if err != nil {
		return nil, err
	}
	strSize, ok := tags[elf.DT_STRSZ]
	if !ok && strOff <= uint64(len(image)) {
		strSize = uint64(len(image)) - strOff
	}
	if st.strtab, err = v.slice(strOff, strSize); err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}

	return st, nil
}

func (t *SymbolTable) buckets() (buckets, chains []uint32) {
	if len(t.hashtab) < 2 {
		return nil, nil
	}
	nbucket, nchain := uint64(t.hashtab[0]), uint64(t.hashtab[1])
	if uint64(len(t.hashtab)) != 2+nbucket+nchain {
		return nil, nil
	}
	return t.hashtab[2 : 2+nbucket], t.hashtab[2+nbucket:]
}

// Len returns the number of entries in the symbol table, including the
// null symbol at index 0.
func (t *SymbolTable) Len() int {
	return len(t.symtab) / elf.Sym64Size
}

func (t *SymbolTable) symbol(i uint32) (Symbol, bool) {
	off := uint64(i) * elf.Sym64Size
	if off+elf.Sym64Size > uint64(len(t.symtab)) {
		return Symbol{}, false
	}
	var s elf.Sym64
	if _, err := binary.Decode(t.symtab[off:off+elf.Sym64Size], t.order, &s); err != nil {
		return Symbol{}, false
	}
	if uint64(s.Name) >= uint64(len(t.strtab)) {
		return Symbol{}, false
	}
	name := t.strtab[s.Name:]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		return Symbol{}, false
	}
	return Symbol{
		Name:  string(name[:end]),
		Value: s.Value,
		Size:  s.Size,
		Type:  elf.ST_TYPE(s.Info),
		Bind:  elf.ST_BIND(s.Info),
	}, true
}

// chain walks one hash chain starting at head, stopping at STN_UNDEF, at an
// out-of-range index, or after visiting as many entries as the table holds.
func (t *SymbolTable) chain(head uint32, chains []uint32) iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		steps := 0
		for i := head; i != stnUndef && int(i) < len(chains) && steps < len(chains); i = chains[i] {
			steps++
			sym, ok := t.symbol(i)
			if !ok {
				continue
			}
			if !yield(sym) {
				return
			}
		}
	}
}

// Symbols walks every hash bucket in order and, for each, its chain up to
// the terminator, yielding each symbol name found.
func (t *SymbolTable) Symbols() iter.Seq[string] {
	return func(yield func(string) bool) {
		buckets, chains := t.buckets()
		for _, head := range buckets {
			for sym := range t.chain(head, chains) {
				if !yield(sym.Name) {
					return
				}
			}
		}
	}
}

// Lookup finds name by hashing it and following a single bucket.
func (t *SymbolTable) Lookup(name string) (Symbol, bool) {
	buckets, chains := t.buckets()
	if len(buckets) == 0 {
		return Symbol{}, false
	}
	head := buckets[elfHash(name)%uint32(len(buckets))]
	for sym := range t.chain(head, chains) {
		if sym.Name == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// elfHash is the System V ABI symbol hash used by DT_HASH tables.
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}
