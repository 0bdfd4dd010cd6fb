// Command factorio-instanced is a thin demonstration CLI over
// internal/coordinator: prepare, start, stop, kill, list-versions, and
// status subcommands built the teacher's cobra/pterm way. It is not part
// of the library's specified surface, just something runnable that
// exercises it end to end.
package main

func main() {
	Execute()
}
