// Package grammar converts operator trees and condition expressions to and
// from the compact single-line text form that is shipped between nodes.
//
// Every node is TAG '(' args ')'. Arguments are nested nodes or bare
// non-negative integers, separated by whitespace; the serializer emits
// exactly one space. Typed constants are written as their value token,
// e.g. i(12) or f(-0.5).
//
//	S()                     Sense
//	F(child cond)           Select
//	P(child col...)         Project
//	A(child count n g... (func col)...)
//	                        Aggregate; func 0 SUM, 1 AVG, 2 MIN, 3 MAX, 4 COUNT
//	M(left right)           Merge
//	C()                     Collect
//	R(child)                Forward
//	=(a b) <(a b) +(a b) -(a b) *(a b) /(a b) !(a b)
//	@(idx)                  Attribute
//	b(..) y(..) i(..) l(..) f(..) n(..)
//	                        Constants
//
// A '-' directly followed by a digit or '.' is part of a number; otherwise
// it is the Subtract tag.
//
// All failures are ir.Error values with code DECODE_FAILED, except constants
// that have no token form (non-finite floats), which fail as incompatible.
package grammar
