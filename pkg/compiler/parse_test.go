/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"testing"

	"gotest.tools/assert"

	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

const minimalSpec = `
version: 2
workflow:
  name: train
  tasks:
  - name: preprocess
    image: nvcr.io/osmo/prep:1.0
  - name: fit
    image: nvcr.io/osmo/train:1.0
    inputs:
    - task: preprocess
`

func TestParseNormalizesBareTasks(t *testing.T) {
	doc, err := Parse(minimalSpec)
	assert.NilError(t, err)
	assert.Equal(t, len(doc.Workflow.Groups), 2)
	assert.Equal(t, len(doc.Workflow.Tasks), 0)
	assert.Equal(t, doc.Workflow.Groups[0].Name, "preprocess-group")
	assert.Equal(t, doc.Workflow.Groups[1].Tasks[0].Name, "fit")
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse(`
version: 1
workflow:
  name: w
  tasks:
  - name: a
    image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseRejectsGroupsAndTasks(t *testing.T) {
	_, err := Parse(`
version: 2
workflow:
  name: w
  tasks:
  - name: a
    image: img
  groups:
  - name: g
    tasks:
    - name: b
      image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseRejectsNeitherGroupsNorTasks(t *testing.T) {
	_, err := Parse(`
version: 2
workflow:
  name: w
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseNameDiscipline(t *testing.T) {
	// "My_Task" and "my-task" fold to the same symbol
	_, err := Parse(`
version: 2
workflow:
  name: w
  tasks:
  - name: My_Task
    image: img
  - name: my-task
    image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))

	_, err = Parse(`
version: 2
workflow:
  name: w
  tasks:
  - name: 1bad
    image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseRejectsForwardReference(t *testing.T) {
	_, err := Parse(`
version: 2
workflow:
  name: w
  groups:
  - name: first
    inputs:
    - task: later
    tasks:
    - name: a
      image: img
  - name: second
    tasks:
    - name: later
      image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseRejectsSelfReference(t *testing.T) {
	_, err := Parse(`
version: 2
workflow:
  name: w
  groups:
  - name: only
    inputs:
    - group: only
    tasks:
    - name: a
      image: img
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestParseAllowsCrossWorkflowInput(t *testing.T) {
	doc, err := Parse(`
version: 2
workflow:
  name: w
  groups:
  - name: g
    inputs:
    - task: "train-41:fit"
    tasks:
    - name: a
      image: img
`)
	assert.NilError(t, err)
	assert.Equal(t, doc.Workflow.Groups[0].Inputs[0].Task, "train-41:fit")
}

func TestParseRejectsMixedTopologyRequirement(t *testing.T) {
	_, err := Parse(`
version: 2
workflow:
  name: w
  groups:
  - name: g
    tasks:
    - name: a
      image: img
      topology:
      - {key: rack, group: r1, required: true}
    - name: b
      image: img
      topology:
      - {key: rack, group: r1, required: false}
`)
	assert.Assert(t, commonerrors.IsBadRequest(err))
}
