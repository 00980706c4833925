package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dispute-service/internal/domain"
)

type caseRow struct {
	id       int64
	finished int16
	parties  []int64
}

func (r caseRow) Scan(dest ...any) error {
	*dest[0].(*int64) = r.id
	*dest[1].(*string) = "Supply"
	*dest[2].(*string) = "a.pdf"
	*dest[3].(*int16) = r.finished
	*dest[4].(*time.Time) = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	*dest[5].(*[]int64) = r.parties
	return nil
}

func TestScanCase(t *testing.T) {
	c, err := scanCase(caseRow{id: 7, finished: 2, parties: []int64{1, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, domain.FinishedYes, c.Finished)
	assert.Equal(t, []int64{1, 3}, c.PartyIDs)
}

func TestScanCaseRejectsUnknownFinishedState(t *testing.T) {
	_, err := scanCase(caseRow{id: 7, finished: 5})
	assert.ErrorContains(t, err, "invalid finished state 5")
}
