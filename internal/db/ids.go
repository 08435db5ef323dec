package db

import (
	"fmt"

	"github.com/google/uuid"
)

func newID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
