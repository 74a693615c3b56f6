package api

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"medwatch/pkg/bus"
	mws3 "medwatch/pkg/s3"
)

// Store holds external dependencies required by the API layer. S3 and Bus are
// optional; handlers that need them fail with 424 when they are absent.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *mws3.Client
	Bus *bus.Bus
}
