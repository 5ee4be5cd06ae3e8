package multitable

import "errors"

// Tee writes each row to every sink in order.
type Tee []RowSink

// WriteRow stops at the first failing sink.
func (t Tee) WriteRow(values []string) error {
	for _, s := range t {
		if err := s.WriteRow(values); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, even after a failure, and joins the errors.
func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeAll closes the sinks of every table and joins the errors.
func closeAll(tables []Table) error {
	var errs []error
	for _, t := range tables {
		if t.Sink == nil {
			continue
		}
		if err := t.Sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
