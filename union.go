package bytebuf

import (
	"fmt"
	"reflect"
	"sync"
)

// variantClass determines a variant's payload layout after the 4-byte
// variant index.
type variantClass uint8

const (
	unitVariant    variantClass = iota // no payload
	newtypeVariant                     // the wrapped value's encoding
	structVariant                      // 8-byte field count, then the fields
)

type variant struct {
	rtype reflect.Type
	class variantClass
}

type union struct {
	variants []variant
	index    map[reflect.Type]int
}

func (u *union) variantOf(t reflect.Type) (int, variant, bool) {
	i, ok := u.index[t]
	if !ok {
		return 0, variant{}, false
	}

	return i, u.variants[i], true
}

var unionRegistry = struct {
	sync.RWMutex
	m map[reflect.Type]*union
}{m: make(map[reflect.Type]*union)}

func lookupUnion(iface reflect.Type) (*union, bool) {
	unionRegistry.RLock()
	defer unionRegistry.RUnlock()
	u, ok := unionRegistry.m[iface]

	return u, ok
}

// RegisterUnion declares the interface type U as a tagged union with the
// given ordered variants. The argument order is the declaration order:
// the position of a variant's concrete type becomes its wire index, so
// both sides of a buffer must register the same variants in the same
// order.
//
// A variant that is a struct with no encoded fields is a unit variant
// (index only). A non-struct variant is a newtype variant (index followed
// by the value's encoding). A struct variant with fields encodes as the
// index, an 8-byte field count, and the fields in declared order.
//
// RegisterUnion is typically called from an init function. Like
// gob.Register, misuse panics: U must be an interface type, at least one
// variant is required, variants must be distinct non-pointer,
// non-interface types, and an interface may only be registered once.
func RegisterUnion[U any](variants ...U) {
	iface := reflect.TypeFor[U]()
	if iface.Kind() != reflect.Interface {
		panic(fmt.Sprintf("bytebuf: RegisterUnion type %s is not an interface", iface))
	}
	if len(variants) == 0 {
		panic(fmt.Sprintf("bytebuf: RegisterUnion of %s with no variants", iface))
	}

	u := &union{index: make(map[reflect.Type]int, len(variants))}
	for i, value := range variants {
		ct := reflect.TypeOf(value)
		if ct == nil {
			panic(fmt.Sprintf("bytebuf: variant %d of %s is a nil interface value", i, iface))
		}
		if ct.Kind() == reflect.Pointer || ct.Kind() == reflect.Interface {
			panic(fmt.Sprintf("bytebuf: variant %s of %s must be a non-pointer concrete type", ct, iface))
		}
		if _, dup := u.index[ct]; dup {
			panic(fmt.Sprintf("bytebuf: duplicate variant %s of %s", ct, iface))
		}
		u.variants = append(u.variants, variant{rtype: ct, class: classifyVariant(ct)})
		u.index[ct] = i
	}

	unionRegistry.Lock()
	defer unionRegistry.Unlock()
	if _, exists := unionRegistry.m[iface]; exists {
		panic(fmt.Sprintf("bytebuf: union %s already registered", iface))
	}
	unionRegistry.m[iface] = u
}

func classifyVariant(t reflect.Type) variantClass {
	if t.Kind() != reflect.Struct {
		return newtypeVariant
	}
	if len(structFields(t)) == 0 {
		return unitVariant
	}

	return structVariant
}
