package sqlite

import "github.com/google/uuid"

// nullUUID converts an optional uuid.UUID to the value stored for a
// nullable TEXT column: the string form, or nil for NULL.
func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// scanNullUUID turns a nullable TEXT column's scanned value back into a
// *uuid.UUID.
func scanNullUUID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
