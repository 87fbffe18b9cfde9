//go:build linux

package mockenv

// Environment describes the outer process environment an Env runs commands
// from.
type Environment struct {
	// WorkDir is the outer working directory. Relative PATH entries are
	// resolved against it when looking up commands for [Env.ProvideCommand].
	WorkDir string
	// HostEnv is a snapshot of environment variables (e.g. HOME, PATH).
	//
	// It is the base environment of commands run by [Env.Exec], with PATH
	// replaced according to [Config.Isolation]. Its PATH is also the outer
	// PATH used to resolve provided commands. If HostEnv is nil, an empty
	// environment is used.
	HostEnv map[string]string
}
