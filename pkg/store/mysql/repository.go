package mysql

// Repository aggregates every MySQL sub-repository used by the control
// plane: the durable replica state store plus the scaling event audit log.
type Repository struct {
	ds *Datastore

	Replica      *ReplicaRepository
	ScalingEvent *ScalingEventRepository
}

// NewRepository opens a MySQL connection and wires up every sub-repository.
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}

	return &Repository{
		ds:           ds,
		Replica:      NewReplicaRepository(ds),
		ScalingEvent: NewScalingEventRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore for transaction support.
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.ds.Close()
}
