// Package idhash computes deterministic record ids, so a redelivered job
// writes rows under the same primary key instead of new ones.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeExecutionID computes a deterministic execution id using SHA256.
// Formula: SHA256(job_id|tx_signature|bundle_id)
// bundleID is empty for single transactions; bundled executions share the
// "bundled" signature and are told apart by it.
// Returns hex-encoded hash (64 characters).
func ComputeExecutionID(jobID, txSignature, bundleID string) string {
	data := fmt.Sprintf("%s|%s|%s", jobID, txSignature, bundleID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeWalletID computes a deterministic wallet id using SHA256.
// Formula: SHA256(user_id|address)
func ComputeWalletID(userID, address string) string {
	hash := sha256.Sum256([]byte(userID + "|" + address))
	return hex.EncodeToString(hash[:])
}

// ComputeJobID computes a deterministic id for a job enqueued by another job.
// Formula: SHA256(parent_job_id|kind)
// kind names the follow-up and, for fan-out, the item it targets.
func ComputeJobID(parentJobID, kind string) string {
	hash := sha256.Sum256([]byte(parentJobID + "|" + kind))
	return hex.EncodeToString(hash[:])
}
