package errors

import (
	"github.com/pingcap/errors"
)

// all tidalflow resource manager errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error",
		errors.RFCCodeText("TFLOW:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("TFLOW:ErrInvalidArgument"),
	)

	// resource manager related errors
	ErrClusterResourceNotEnough = errors.Normalize(
		"cluster resource is not enough, please scale out the cluster",
		errors.RFCCodeText("TFLOW:ErrClusterResourceNotEnough"),
	)
	ErrUnknownWorker = errors.Normalize(
		"worker is not registered: %s",
		errors.RFCCodeText("TFLOW:ErrUnknownWorker"),
	)
	ErrResourceManagerClosed = errors.Normalize(
		"resource manager is closed",
		errors.RFCCodeText("TFLOW:ErrResourceManagerClosed"),
	)
	ErrResourceManagerNotReady = errors.Normalize(
		"resource manager has not been initialized",
		errors.RFCCodeText("TFLOW:ErrResourceManagerNotReady"),
	)
	ErrStaleWorkerEntry = errors.Normalize(
		"worker entry changed during commit: %s",
		errors.RFCCodeText("TFLOW:ErrStaleWorkerEntry"),
	)
	ErrOperationSendFail = errors.Normalize(
		"failed to send %s operation to worker %s",
		errors.RFCCodeText("TFLOW:ErrOperationSendFail"),
	)

	// master config related errors
	ErrMasterConfigInvalid = errors.Normalize(
		"master config is invalid: %s",
		errors.RFCCodeText("TFLOW:ErrMasterConfigInvalid"),
	)
	ErrMasterConfigUnknownItem = errors.Normalize(
		"master config contains unknown configuration options: %s",
		errors.RFCCodeText("TFLOW:ErrMasterConfigUnknownItem"),
	)
	ErrMasterDecodeConfigFile = errors.Normalize(
		"failed to decode master config file",
		errors.RFCCodeText("TFLOW:ErrMasterDecodeConfigFile"),
	)

	// membership related errors
	ErrDiscoveryDuplicateWatch = errors.Normalize(
		"service discovery can only be watched once",
		errors.RFCCodeText("TFLOW:ErrDiscoveryDuplicateWatch"),
	)
	ErrEtcdAPIError = errors.Normalize(
		"etcd api returns error",
		errors.RFCCodeText("TFLOW:ErrEtcdAPIError"),
	)
	ErrDecodeEtcdKeyFail = errors.Normalize(
		"failed to decode etcd key: %s",
		errors.RFCCodeText("TFLOW:ErrDecodeEtcdKeyFail"),
	)
	ErrDecodeEtcdValueFail = errors.Normalize(
		"failed to decode etcd value: %s",
		errors.RFCCodeText("TFLOW:ErrDecodeEtcdValueFail"),
	)
)
