package executor

import "os"

func hostEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
