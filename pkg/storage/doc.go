/*
Package storage persists tasks, assets and training execution records.

Two backends implement Store:

  - BoltStore: embedded bbolt file (<dataDir>/trainyard.db), one bucket per
    record type, JSON values keyed by big-endian ids. bbolt admits a single
    writer, so every Update is serialized.
  - GormStore: PostgreSQL through GORM. Reads inside Update take row locks
    (SELECT ... FOR UPDATE).

Every change that must keep a task and an asset counter consistent goes
through Update, which commits all writes made by fn or none of them:

	err := store.Update(func(tx storage.Tx) error {
		task, err := tx.GetTask(id)
		if err != nil {
			return err
		}
		asset, err := tx.GetAsset(*task.MarkingAssetID)
		...
		return tx.PutAsset(asset)
	})

Missing records are reported with an error wrapping ErrNotFound.
*/
package storage
