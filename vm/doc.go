// Package vm implements the LS9 virtual machine.
//
// This package contains:
//   - The accumulator machine and its bytecode interpreter
//   - The instruction set, builder, validator and disassembler
//   - The primitive table
//   - Catch/throw and runtime conditions
//   - The port table and the symbol table
//   - Heap image reader and writer
package vm
