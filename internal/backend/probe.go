package backend

// available records which providers have runtime support linked into this
// build. GPU provider builds register themselves from init functions in
// their own tag-gated files; the plain build carries only the CPU
// interpreter.
var available = map[Provider]bool{
	CPU: true,
}

// Available reports whether a provider can execute models in this build.
func Available(p Provider) bool {
	return available[p]
}
