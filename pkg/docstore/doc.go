// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package docstore moves document payloads in and out of object storage.
//
// Store writes documents retrieved from remote gateways into an S3
// compatible bucket (via minio-go) and hands out presigned GET URLs for
// stored objects. Objects are written once: saving a key that already
// exists leaves the object untouched.
//
// Archive keeps a JSON copy of processed results under hive style
// partitions (cx_id=, patient_id=, date=, stage=).
//
// Fetcher downloads a payload from a presigned URL. The inbound retrieval
// path uses it to load the documents the internal API points at.
package docstore
