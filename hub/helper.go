// Copyright (c) Josh Fairhead. All rights reserved.
// Licensed under the MIT License. See License.txt in the project root for license information.

package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand"
	"net/http"
	"os"
)

const alphanum = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randStr(length int) string {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = alphanum[rand.Intn(len(alphanum))]
	}
	return string(buf)
}

func shouldRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// GetSHA256FromFile returns the hex-encoded SHA-256 digest of a file.
func GetSHA256FromFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err = io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
