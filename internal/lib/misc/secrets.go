package misc

import (
	"os"
	"strconv"
)

func GetSecret(key string) string {
	return os.Getenv(key)
}

// SetUintFromEnv sets val from the named env var, leaving it untouched if the var isn't set.
func SetUintFromEnv(val *uint64, envName string) error {
	strVal := GetSecret(envName)
	if strVal == "" {
		return nil
	}
	intVal, err := strconv.ParseUint(strVal, 10, 64)
	if err != nil {
		return err
	}
	*val = intVal
	return nil
}
