package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/releases"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

func sampleRecord() *RunRecord {
	started := time.Date(2024, 5, 17, 6, 0, 0, 0, time.UTC)
	return &RunRecord{
		RunID:      "run-1",
		Dataset:    "geonames-allcountries",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Minute),
		Outcome:    "updated",
		Stats: &stats.DatasetStatistics{
			TotalEntries: 3,
			CountryCount: 2,
			FileSize:     120,
			MD5Checksum:  "0123456789abcdef0123456789abcdef",
		},
		Previous: &releases.Lookup{Reason: releases.ReasonNoRelease},
		IsUpdate: true,
		Status:   "update",
	}
}

func TestRecord(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := NewRecorder(mt.Coll, nil).Record(context.Background(), sampleRecord())
		require.NoError(mt, err)
	})

	mt.Run("write error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := NewRecorder(mt.Coll, nil).Record(context.Background(), sampleRecord())
		require.Error(mt, err)
		assert.True(mt, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeConnection))
	})
}

func TestRecent(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes newest first", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		first := mtest.CreateCursorResponse(1, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "run-2"},
				{Key: "dataset", Value: "geonames-allcountries"},
				{Key: "outcome", Value: "no_change"},
				{Key: "is_update", Value: false},
			},
			bson.D{
				{Key: "_id", Value: "run-1"},
				{Key: "dataset", Value: "geonames-allcountries"},
				{Key: "outcome", Value: "updated"},
				{Key: "is_update", Value: true},
				{Key: "stats", Value: bson.D{{Key: "total_entries", Value: int64(3)}, {Key: "country_count", Value: int32(2)}}},
			})
		last := mtest.CreateCursorResponse(0, ns, mtest.NextBatch)
		mt.AddMockResponses(first, last)

		records, err := NewRecorder(mt.Coll, nil).Recent(context.Background(), "geonames-allcountries", 10)
		require.NoError(mt, err)
		require.Len(mt, records, 2)
		assert.Equal(mt, "run-2", records[0].RunID)
		assert.False(mt, records[0].IsUpdate)
		require.NotNil(mt, records[1].Stats)
		assert.Equal(mt, int64(3), records[1].Stats.TotalEntries)
		assert.Equal(mt, 2, records[1].Stats.CountryCount)
	})

	mt.Run("query error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Message: "unauthorized",
			Name:    "Unauthorized",
		}))

		_, err := NewRecorder(mt.Coll, nil).Recent(context.Background(), "geonames-allcountries", 10)
		require.Error(mt, err)
	})
}

func TestClose_WithoutClient(t *testing.T) {
	assert.NoError(t, NewRecorder(nil, nil).Close(context.Background()))
}
