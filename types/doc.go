// Copyright (c) AgentNet Authors.
// Licensed under the MIT License.

/*
Package types provides the global shared type definitions for the core.

types is the lowest-level public package. It depends on no internal package
and gives registry, coordination, governor, and api a single error contract
so the packages never import each other just for error checks.

# Core types

  - Error / ErrorCode — structured error values with HTTP status and
    Retryable markers
  - Error helpers     — NewError / NewErrorf / IsRetryable / GetErrorCode /
    IsCode

Every operation in the core returns its failure as a *types.Error carrying
one of the taxonomy codes; nothing is silently swallowed or retried except
task failures explicitly marked retryable by the coordination engine.
*/
package types
