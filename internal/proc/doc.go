// Package proc owns the OS processes behind supervised services: launching
// with an explicitly constructed environment, observing exit, and delivering
// termination signals.
//
// Full process-group termination is only guaranteed on Linux, where the
// operating system's job-control semantics deliver signals to every member of
// the child process group. On macOS and Windows the package offers best-effort
// semantics: signals reach the direct child, but grandchildren may remain
// running and must be cleaned up separately by the caller.
package proc
