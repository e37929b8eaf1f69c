package config

import "strings"

// Params is the immutable set of values exposed through CONFIG GET.
type Params struct {
	Dir        string
	DBFilename string
}

// Get returns the value of a parameter by name, matched case-insensitively.
// Unknown names and values that were never supplied yield "nil".
func (p Params) Get(name string) string {
	var v string
	switch strings.ToLower(name) {
	case "dir":
		v = p.Dir
	case "dbfilename":
		v = p.DBFilename
	}
	if v == "" {
		return "nil"
	}
	return v
}
