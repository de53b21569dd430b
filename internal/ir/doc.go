// Package ir provides the foundational types shared by every other package:
// typed sensor values, rows and tables, task identity, and the binary codec
// used for anything that crosses the radio.
//
// This package contains no runtime behaviour beyond value arithmetic and
// encoding. All other internal packages import ir; ir imports nothing
// internal.
//
// Key constraints:
//   - The value variant set is closed: Bool, Byte, Int32, Int64, Float32 and
//     NodeAddress. A nil Value inside a Row is a missing-value marker.
//   - Arithmetic and comparison promote along Bool < Byte < Int32 < Int64 <
//     Float32. NodeAddress only compares, against Int64 or NodeAddress.
//   - Every operation returns a fresh value except Negate, which flips the
//     receiver in place and returns it.
//   - Binary encodings are fixed width and big-endian.
package ir
