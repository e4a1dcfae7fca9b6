package storage

import "os"

// DiskUsageBytes returns the combined size of the database file and its WAL
// and shared-memory sidecars. Missing files contribute 0.
func DiskUsageBytes(dbPath string) int64 {
	var total int64
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}
