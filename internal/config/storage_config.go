package config

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDataFolder() string {
	return GetEnv("SESSION_DATA_FOLDER", "./data")
}

// GetStoragePassphrase enables sealing of the credential file when non-empty
func (Storage) GetStoragePassphrase() string {
	return GetEnv("SESSION_STORAGE_PASSPHRASE", "")
}
