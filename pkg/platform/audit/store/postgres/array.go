package postgres

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func pqUUIDArray(ids []uuid.UUID) any {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}
