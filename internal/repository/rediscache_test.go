package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeyIgnoresSensorOrder(t *testing.T) {
	from := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	a := windowKey([]string{"pump-1", "temp-3", "ahu-2"}, from, to)
	b := windowKey([]string{"temp-3", "ahu-2", "pump-1"}, from, to)
	assert.Equal(t, a, b)
}

func TestWindowKeyDistinguishesSetsAndWindows(t *testing.T) {
	from := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	base := windowKey([]string{"pump-1", "temp-3"}, from, to)
	assert.NotEqual(t, base, windowKey([]string{"pump-1"}, from, to))
	assert.NotEqual(t, base, windowKey([]string{"pump-1", "temp-3"}, from, to.Add(time.Minute)))
}

func TestWindowKeyDoesNotMutateInput(t *testing.T) {
	from := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ids := []string{"z-9", "a-1"}
	windowKey(ids, from, from.Add(time.Hour))
	assert.Equal(t, []string{"z-9", "a-1"}, ids)
}
