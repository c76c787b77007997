//go:build no_entrypoint

package program

import "context"

// Process is unavailable in builds that embed the program as a library.
func (p *Processor) Process(ctx context.Context, inv *Invocation) (*Result, error) {
	return nil, ErrEntrypointExcluded
}
