package boltdb

import (
	"context"
	"sort"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/persistence"
	"go.etcd.io/bbolt"
)

var (
	// stagesBucketKey is the key for the bucket that contains stage pointers.
	//
	// It contains a child bucket for each group. Within the group bucket the
	// keys are stage names and the values are JSON-encoded persistence.Stage
	// values.
	stagesBucketKey = []byte("stages")

	// parametersBucketKey is the key for the bucket that contains parameter
	// values, keyed by parameter name.
	parametersBucketKey = []byte("parameters")

	// promotionIntentsBucketKey is the key for the bucket that contains
	// outstanding promotion intents.
	//
	// The keys are the group and the stage name separated by a NUL byte. The
	// values are JSON-encoded persistence.PromotionIntent values.
	promotionIntentsBucketKey = []byte("promotion_intents")
)

// LoadStage loads the pointer for a specific stage of a group.
func (ds *DataStore) LoadStage(
	ctx context.Context,
	group, name string,
) (s persistence.Stage, ok bool, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			b := bboltx.Bucket(tx, stagesBucketKey, []byte(group))
			if b == nil {
				return
			}

			if data := b.Get([]byte(name)); data != nil {
				unmarshalRecord(data, &s)
				ok = true
			}
		},
	)

	return s, ok, err
}

// LoadStages loads all of a group's stage pointers, ordered by name.
func (ds *DataStore) LoadStages(
	ctx context.Context,
	group string,
) (result []persistence.Stage, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			b := bboltx.Bucket(tx, stagesBucketKey, []byte(group))
			if b == nil {
				return
			}

			bboltx.Must(b.ForEach(func(_, data []byte) error {
				var s persistence.Stage
				unmarshalRecord(data, &s)
				result = append(result, s)
				return nil
			}))
		},
	)

	return result, err
}

// LoadParameter loads the value of a parameter.
func (ds *DataStore) LoadParameter(
	ctx context.Context,
	name string,
) (v string, ok bool, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			b := tx.Bucket(parametersBucketKey)
			if b == nil {
				return
			}

			if data := b.Get([]byte(name)); data != nil {
				v, ok = string(data), true
			}
		},
	)

	return v, ok, err
}

// LoadPromotionIntents loads all outstanding promotion intents, ordered by
// creation time.
func (ds *DataStore) LoadPromotionIntents(
	ctx context.Context,
) (result []persistence.PromotionIntent, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			b := tx.Bucket(promotionIntentsBucketKey)
			if b == nil {
				return
			}

			bboltx.Must(b.ForEach(func(_, data []byte) error {
				var in persistence.PromotionIntent
				unmarshalRecord(data, &in)
				result = append(result, in)
				return nil
			}))
		},
	)

	sort.SliceStable(
		result,
		func(i, j int) bool {
			return result[i].Created.Before(result[j].Created)
		},
	)

	return result, err
}

// VisitSaveStage applies the changes in a "SaveStage" operation to the
// database.
func (c *committer) VisitSaveStage(
	_ context.Context,
	op persistence.SaveStage,
) error {
	bboltx.Put(
		bboltx.CreateBucketIfNotExists(
			c.tx,
			stagesBucketKey,
			[]byte(op.Stage.Group),
		),
		[]byte(op.Stage.Name),
		marshalRecord(op.Stage),
	)

	return nil
}

// VisitSaveParameter applies the changes in a "SaveParameter" operation to
// the database.
func (c *committer) VisitSaveParameter(
	_ context.Context,
	op persistence.SaveParameter,
) error {
	bboltx.Put(
		bboltx.CreateBucketIfNotExists(c.tx, parametersBucketKey),
		[]byte(op.Parameter.Name),
		[]byte(op.Parameter.Value),
	)

	return nil
}

// VisitSavePromotionIntent applies the changes in a "SavePromotionIntent"
// operation to the database.
func (c *committer) VisitSavePromotionIntent(
	_ context.Context,
	op persistence.SavePromotionIntent,
) error {
	bboltx.Put(
		bboltx.CreateBucketIfNotExists(c.tx, promotionIntentsBucketKey),
		promotionIntentKey(op.Intent.Group, op.Intent.Stage),
		marshalRecord(op.Intent),
	)

	return nil
}

// VisitRemovePromotionIntent applies the changes in a
// "RemovePromotionIntent" operation to the database.
func (c *committer) VisitRemovePromotionIntent(
	_ context.Context,
	op persistence.RemovePromotionIntent,
) error {
	if b := c.tx.Bucket(promotionIntentsBucketKey); b != nil {
		bboltx.Delete(b, promotionIntentKey(op.Group, op.Stage))
	}

	return nil
}

func promotionIntentKey(group, stage string) []byte {
	return []byte(group + "\x00" + stage)
}
