// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

// Runnable is a long lived component with a start and a stop.
type Runnable interface {
	// Run starts the component and returns once it is ready.
	Run() error
	// IsRunning returns true between Run and Shutdown.
	IsRunning() bool
	// Shutdown stops the component and releases what it holds.
	Shutdown() error
}
