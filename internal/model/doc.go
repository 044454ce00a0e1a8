// Package model defines data types shared between the live query client and
// the binaries that consume its updates.
package model
