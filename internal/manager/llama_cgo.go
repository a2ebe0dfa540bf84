//go:build llama

package manager

// cgo link directives for the in-process llama adapter.
// An rpath of $ORIGIN lets the runtime loader find libllama.so next to the
// built binary (./bin); -L points the linker at the same directory.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
