package config

import "os"

func lookupEnv(key string) string {
	value, _ := os.LookupEnv(key)
	return value
}
