// Package wire implements the low-level D-Bus wire encoding:
// fixed-width integers in a message-selectable byte order,
// length-prefixed strings, and the alignment padding that the protocol
// requires between values.
//
// The types in this package know nothing about messages or type
// signatures beyond single values. Framing and type bookkeeping live
// in package sdbus.
package wire
