package swapgo

import "os"

// Close stops the eviction workers and drops pooled buffers. Resident data
// stays readable but is no longer evicted; dispose lists to release their
// swap files.
//
// A temporary swap directory created by New is removed, so data swapped
// out to it reloads as default values.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		var firstErr error
		if err := e.coord.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.pool.Close()
		if err := e.removeTempDir(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.closeErr = firstErr
		e.logger.Debug("swap engine closed")
	})
	return e.closeErr
}

func (e *Engine) removeTempDir() error {
	if e.tempDir == "" {
		return nil
	}
	dir := e.tempDir
	e.tempDir = ""
	return os.RemoveAll(dir)
}
