package proc

import (
	"encoding/binary"
	"fmt"
)

const wordSize = 4

// BuildUserStack lays out argv and envp at the top of a fresh user stack,
// following the conventional C runtime layout: the argument and
// environment strings themselves (padded so the pointer arrays that follow
// stay word-aligned), then, growing down from stackTop, a NULL-terminated
// envp pointer array, a NULL-terminated argv pointer array, and argc at
// the returned stack pointer. It is a pure function of its inputs, independent of execve, so
// it is directly testable against the literal stack-layout scenario.
//
// It returns the new stack pointer and the exact byte image that must be
// written into the target address space starting at newSP through
// stackTop; execve is responsible for performing that write via
// copy_to_user once the destination pages are mapped.
func BuildUserStack(argv, envp []string, stackTop uint32) (newSP uint32, image []byte, err error) {
	if stackTop%wordSize != 0 {
		return 0, nil, fmt.Errorf("proc: stack top %#x is not word-aligned", stackTop)
	}

	var strBuf []byte
	argvOffsets := make([]uint32, len(argv))
	envpOffsets := make([]uint32, len(envp))

	for i, s := range argv {
		argvOffsets[i] = uint32(len(strBuf))
		strBuf = append(strBuf, []byte(s)...)
		strBuf = append(strBuf, 0)
	}
	for i, s := range envp {
		envpOffsets[i] = uint32(len(strBuf))
		strBuf = append(strBuf, []byte(s)...)
		strBuf = append(strBuf, 0)
	}

	paddedStrLen := alignUp32(uint32(len(strBuf)), wordSize)
	if paddedStrLen > stackTop {
		return 0, nil, fmt.Errorf("proc: argv/envp too large for available stack")
	}
	stringsBase := stackTop - paddedStrLen

	toAddr := func(offset uint32) uint32 {
		return stringsBase + offset
	}

	pointerWords := 1 + (len(argv) + 1) + (len(envp) + 1) // argc, argv[], NULL, envp[], NULL
	arraysBase := stringsBase - uint32(pointerWords)*wordSize

	pointerBuf := make([]byte, pointerWords*wordSize)
	off := 0
	putWord := func(v uint32) {
		binary.LittleEndian.PutUint32(pointerBuf[off:off+wordSize], v)
		off += wordSize
	}

	putWord(uint32(len(argv)))
	for _, o := range argvOffsets {
		putWord(toAddr(o))
	}
	putWord(0)
	for _, o := range envpOffsets {
		putWord(toAddr(o))
	}
	putWord(0)

	// Assemble the final contiguous image in memory order from arraysBase
	// up to stackTop: pointer arrays, then the strings, then trailing
	// padding up to stackTop.
	padding := make([]byte, paddedStrLen-uint32(len(strBuf)))
	image = append(image, pointerBuf...)
	image = append(image, strBuf...)
	image = append(image, padding...)

	return arraysBase, image, nil
}

func alignUp32(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
