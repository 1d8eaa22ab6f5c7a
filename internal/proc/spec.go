package proc

import (
	"os"
	"sort"
)

// StartSpec describes exactly what to launch. The environment is constructed
// from scratch: Env entries plus the PassEnv variables resolved against the
// daemon's own environment. Nothing else is inherited.
type StartSpec struct {
	Name    string
	Command []string
	Workdir string
	Env     map[string]string
	PassEnv []string
}

func (s StartSpec) environ() []string {
	env := make([]string, 0, len(s.PassEnv)+len(s.Env))
	for _, name := range s.PassEnv {
		if _, overridden := s.Env[name]; overridden {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	keys := make([]string, 0, len(s.Env))
	for key := range s.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+s.Env[key])
	}
	return env
}
