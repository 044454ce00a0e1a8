// Package values converts between Go values and the JSON encoding used in
// query arguments and results.
//
// Plain JSON types pass through unchanged. Types JSON cannot carry are
// wrapped in single-key objects:
//
//	int64   {"$integer": "<base64 of 8 little-endian bytes>"}
//	[]byte  {"$binary": "<base64>"}
//	Set     {"$set": [...]}
//	Map     {"$map": [[key, value], ...]}
//
// Other integer widths and floats are sent as JSON numbers, and JSON numbers
// always decode as float64.
package values
