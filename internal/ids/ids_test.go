package ids_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/aris-agent/internal/ids"
)

func TestNewIsSortable(t *testing.T) {
	now := time.Now()
	a := ids.New(now)
	b := ids.New(now)
	c := ids.New(now.Add(time.Millisecond))

	assert.Len(t, a, 26)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}
