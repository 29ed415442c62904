package postgres

import (
	"gorm.io/gorm"
)

// SharedHelpers holds query helpers used across the postgres repositories.
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

var sortableColumns = map[string]bool{
	"created_at": true,
	"started_at": true,
	"title":      true,
	"due_date":   true,
}

// ApplyPaginationAndSort applies sorting and pagination to a query. Unknown
// sort columns fall back to created_at to keep ORDER BY injection-safe.
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	if !sortableColumns[sortBy] {
		sortBy = "created_at"
	}
	if sortOrder != "asc" {
		sortOrder = "desc"
	}
	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}
