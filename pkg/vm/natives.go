// Package vm - native function bindings.
//
// This file wires the small set of natives the language depends on
// directly into the VM's globals table. Each native is a thin
// bytecode.NativeFn closure over the standard library; unlike the
// wider host-integration surface a general-purpose scripting VM might
// expose (HTTP, crypto, the filesystem), loxvm keeps this list to what
// the language itself needs to be usable: timing, list manipulation,
// and basic string/number utilities.
package vm

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kristofer/loxvm/pkg/bytecode"
)

// defineNatives registers every native function as a global, so user
// code calls them exactly like any other function: `clock()`,
// `append(list, value)`, and so on.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", nativeClock)
	vm.defineNative("append", vm.nativeAppend)
	vm.defineNative("remove", vm.nativeRemove)
	vm.defineNative("slice", vm.nativeSlice)
	vm.defineNative("len", vm.nativeLen)
	vm.defineNative("random", nativeRandom)
	vm.defineNative("upper", vm.nativeUpper)
	vm.defineNative("lower", vm.nativeLower)
	vm.defineNative("str", vm.nativeStr)
}

func (vm *VM) defineNative(name string, fn bytecode.NativeFn) {
	obj := bytecode.NewNative(name, fn)
	vm.heap.Track(obj)
	vm.globals.Set(vm.Intern(name), bytecode.ObjVal(obj))
}

func nativeClock(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 0 {
		return bytecode.Nil, fmt.Errorf("clock() takes no arguments")
	}
	return bytecode.NumberVal(float64(time.Now().UnixNano()) / 1e9), nil
}

// nativeAppend mutates list in place, pushing value onto the end, and
// returns nil. Callers that want the post-append list back just keep
// using the variable they already had: `append(l, x); print l[...]`
// per the language's by-reference list semantics.
func (vm *VM) nativeAppend(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 2 {
		return bytecode.Nil, fmt.Errorf("append() takes exactly 2 arguments")
	}
	list, ok := args[0].AsObj().(*bytecode.ObjList)
	if !args[0].IsObj() || !ok {
		return bytecode.Nil, fmt.Errorf("append() expects a list as its first argument")
	}
	list.Items = append(list.Items, args[1])
	return bytecode.Nil, nil
}

// nativeRemove mutates list in place, deleting the element at idx, and
// returns nil.
func (vm *VM) nativeRemove(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 2 {
		return bytecode.Nil, fmt.Errorf("remove() takes exactly 2 arguments")
	}
	list, ok := args[0].AsObj().(*bytecode.ObjList)
	if !args[0].IsObj() || !ok {
		return bytecode.Nil, fmt.Errorf("remove() expects a list as its first argument")
	}
	if !args[1].IsNumber() {
		return bytecode.Nil, fmt.Errorf("remove() expects a number index as its second argument")
	}
	idx := int(args[1].AsNumber())
	if idx < 0 || idx >= len(list.Items) {
		return bytecode.Nil, fmt.Errorf("list index out of range")
	}
	list.Items = append(list.Items[:idx], list.Items[idx+1:]...)
	return bytecode.Nil, nil
}

// nativeSlice returns a new list holding items [from, to) stepping by
// step, which defaults to 1 when omitted.
func (vm *VM) nativeSlice(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 3 && len(args) != 4 {
		return bytecode.Nil, fmt.Errorf("slice() takes 3 or 4 arguments")
	}
	list, ok := args[0].AsObj().(*bytecode.ObjList)
	if !args[0].IsObj() || !ok {
		return bytecode.Nil, fmt.Errorf("slice() expects a list as its first argument")
	}
	if !args[1].IsNumber() || !args[2].IsNumber() {
		return bytecode.Nil, fmt.Errorf("slice() expects number bounds")
	}
	from := int(args[1].AsNumber())
	to := int(args[2].AsNumber())
	if from < 0 || to > len(list.Items) || from > to {
		return bytecode.Nil, fmt.Errorf("slice bounds out of range")
	}
	step := 1
	if len(args) == 4 {
		if !args[3].IsNumber() {
			return bytecode.Nil, fmt.Errorf("slice() expects a number step")
		}
		step = int(args[3].AsNumber())
		if step <= 0 {
			return bytecode.Nil, fmt.Errorf("slice() step must be positive")
		}
	}
	items := make([]bytecode.Value, 0, (to-from+step-1)/step)
	for i := from; i < to; i += step {
		items = append(items, list.Items[i])
	}
	result := bytecode.NewList(items)
	vm.track(result)
	return bytecode.ObjVal(result), nil
}

func (vm *VM) nativeLen(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Nil, fmt.Errorf("len() takes exactly 1 argument")
	}
	if args[0].IsString() {
		return bytecode.NumberVal(float64(len(args[0].AsString().Chars))), nil
	}
	if list, ok := args[0].AsObj().(*bytecode.ObjList); args[0].IsObj() && ok {
		return bytecode.NumberVal(float64(len(list.Items))), nil
	}
	return bytecode.Nil, fmt.Errorf("len() expects a list or string")
}

func nativeRandom(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 0 {
		return bytecode.Nil, fmt.Errorf("random() takes no arguments")
	}
	return bytecode.NumberVal(rand.Float64()), nil
}

func (vm *VM) nativeUpper(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return bytecode.Nil, fmt.Errorf("upper() expects a single string argument")
	}
	return bytecode.ObjVal(vm.Intern(strings.ToUpper(args[0].AsString().Chars))), nil
}

func (vm *VM) nativeLower(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return bytecode.Nil, fmt.Errorf("lower() expects a single string argument")
	}
	return bytecode.ObjVal(vm.Intern(strings.ToLower(args[0].AsString().Chars))), nil
}

func (vm *VM) nativeStr(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Nil, fmt.Errorf("str() takes exactly 1 argument")
	}
	return bytecode.ObjVal(vm.Intern(args[0].String())), nil
}
