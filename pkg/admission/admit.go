/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package admission runs the gate between a submitted workflow document and
// the durable store: render, compile, resource assertions, registry and data
// credential checks, user quotas, and finally row/artifact creation.
package admission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/s3"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/configstore"
	"github.com/NVIDIA/OSMO-sub000/pkg/credentials"
	"github.com/NVIDIA/OSMO-sub000/pkg/renderer"
)

// Mode selects how far admission goes. Validate runs every check and stops;
// DryRun additionally returns the rendered document and compiled pods;
// Submit persists rows and artifacts.
type Mode string

const (
	ModeValidate Mode = "validate"
	ModeSubmit   Mode = "submit"
	ModeDryRun   Mode = "dry-run"
)

// WorkflowConfigName is the config-store entry carrying service-level
// workflow policy.
const WorkflowConfigName = "default"

// NodeSource supplies the candidate nodes of a pool/platform for per-node
// assertion evaluation.
type NodeSource interface {
	ListPoolNodes(ctx context.Context, pool, platform string) ([]*v1.ResourceEntry, error)
}

type Request struct {
	// SpecText is the user's document before template rendering.
	SpecText     string
	SetVariables map[string]interface{}
	Submit       *v1.SubmitContext
	Mode         Mode
}

type Result struct {
	Compiled     *compiler.CompiledWorkflow
	RenderedSpec string
	// WorkflowId is set only on submit.
	WorkflowId string
}

type Admitter struct {
	db       dbclient.Interface
	store    *configstore.Store
	objects  s3.Interface
	creds    *credentials.Manager
	registry *RegistryValidator
	nodes    NodeSource
}

func NewAdmitter(db dbclient.Interface, store *configstore.Store, objects s3.Interface,
	creds *credentials.Manager, nodes NodeSource) *Admitter {
	return &Admitter{
		db:      db,
		store:   store,
		objects: objects,
		creds:   creds,
		nodes:   nodes,
	}
}

// Admit is the single entry point for validate, dry-run and submit.
func (a *Admitter) Admit(ctx context.Context, req *Request) (*Result, error) {
	if req.Submit == nil || req.Submit.User == "" {
		return nil, commonerrors.NewBadRequest("submission context requires a user")
	}
	switch req.Mode {
	case ModeValidate, ModeSubmit, ModeDryRun:
	default:
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("unknown admission mode %q", req.Mode))
	}

	rendered, err := renderer.RenderDocument(ctx, req.SpecText, req.SetVariables)
	if err != nil {
		return nil, err
	}
	doc, err := compiler.Parse(rendered)
	if err != nil {
		return nil, err
	}
	if err = compiler.ResolveCrossWorkflowInputs(ctx, a.db, &doc.Workflow); err != nil {
		return nil, err
	}

	poolName := doc.Workflow.Pool
	if poolName == "" {
		poolName = req.Submit.Pool
	}
	if poolName == "" {
		return nil, commonerrors.NewBadRequest("no pool named in the spec or the submission")
	}
	var pool v1.Pool
	if err = a.store.GetTyped(ctx, v1.ConfigPool, poolName, &pool); err != nil {
		if commonerrors.IsNotFound(err) {
			return nil, commonerrors.NewNotFound("Pool", poolName)
		}
		return nil, err
	}
	workflowConfig := a.workflowConfig(ctx)

	compiled, err := compiler.Compile(ctx, doc, req.Submit, &pool, poolName,
		workflowConfig, &compiler.StorePodTemplates{Store: a.store})
	if err != nil {
		return nil, err
	}

	registry := a.registryValidator(workflowConfig)
	for _, group := range compiled.Groups {
		for _, task := range group.Tasks {
			if err = a.checkAssertions(ctx, &pool, poolName, task); err != nil {
				return nil, err
			}
			if err = a.checkImage(ctx, registry, req.Submit.User, task); err != nil {
				return nil, err
			}
			if err = a.checkDataAccess(ctx, req.Submit.User, task); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{RenderedSpec: rendered}
	if req.Mode == ModeDryRun {
		result.Compiled = compiled
	}
	if req.Mode != ModeSubmit {
		return result, nil
	}

	if err = CheckUserQuotas(ctx, a.db, req.Submit.User,
		workflowConfig.UserWorkflowLimits, compiled.TotalTasks); err != nil {
		return nil, err
	}
	workflowId, err := a.persist(ctx, req, compiled, &pool, rendered)
	if err != nil {
		return nil, err
	}
	result.Compiled = compiled
	result.WorkflowId = workflowId
	return result, nil
}

func (a *Admitter) workflowConfig(ctx context.Context) *v1.WorkflowConfig {
	var config v1.WorkflowConfig
	err := a.store.GetTyped(ctx, v1.ConfigWorkflow, WorkflowConfigName, &config)
	if err != nil && !commonerrors.IsNotFound(err) {
		klog.ErrorS(err, "failed to load workflow config, using defaults")
	}
	return &config
}

// registryValidator rebuilds the validator when the disabled-host list
// changes; the digest cache is scoped to one list generation.
func (a *Admitter) registryValidator(config *v1.WorkflowConfig) *RegistryValidator {
	if a.registry == nil || !sameHosts(a.registry.disabledHosts, config.DisableRegistryValidation) {
		a.registry = NewRegistryValidator(config.DisableRegistryValidation)
	}
	return a.registry
}

func sameHosts(current map[string]struct{}, hosts []string) bool {
	if len(current) != len(hosts) {
		return false
	}
	for _, host := range hosts {
		if _, ok := current[host]; !ok {
			return false
		}
	}
	return true
}

// checkAssertions enforces the platform security policy, runs the pool and
// platform validation rule sets (static then per-node), and rejects tasks no
// node of the platform could ever fit.
func (a *Admitter) checkAssertions(ctx context.Context, pool *v1.Pool, poolName string,
	task *compiler.CompiledTask) error {
	platform := pool.Platforms[task.Platform]
	if err := CheckPodSecurity(&task.Spec, task.Platform, &platform); err != nil {
		return err
	}
	names := append([]string{}, pool.CommonResourceValidations...)
	names = append(names, platform.ResourceValidations...)
	var assertions []v1.ResourceAssertion
	for _, name := range names {
		var validation v1.ResourceValidation
		if err := a.store.GetTyped(ctx, v1.ConfigResourceValidation, name, &validation); err != nil {
			return err
		}
		assertions = append(assertions, validation.Assertions...)
	}

	var tokens compiler.TokenMap
	static, perNode := SplitAssertions(assertions)
	if len(assertions) > 0 {
		var err error
		tokens, err = compiler.BuildTokenMap(task.Resource, poolName, task.Platform,
			task.Spec.Name, mergedVariables(pool, &platform))
		if err != nil {
			return err
		}
		if err = EvaluateStatic(static, task.Resource, tokens); err != nil {
			return err
		}
	}

	request, err := RequestList(task.Resource)
	if err != nil {
		return err
	}
	if len(request) == 0 && len(perNode) == 0 {
		return nil
	}
	candidates, err := a.nodes.ListPoolNodes(ctx, poolName, task.Platform)
	if err != nil {
		return err
	}
	candidates, rejections := FilterByCapacity(request, candidates)
	if len(candidates) == 0 {
		if len(rejections) == 0 {
			return commonerrors.NewNoNodeSatisfied("no candidate nodes in the pool")
		}
		return commonerrors.NewNoNodeSatisfied(formatRejectionTable(rejections))
	}
	if len(perNode) == 0 {
		return nil
	}
	return EvaluatePerNode(perNode, tokens, candidates)
}

func mergedVariables(pool *v1.Pool, platform *v1.Platform) map[string]string {
	merged := map[string]string{}
	for key, value := range pool.CommonDefaultVariables {
		merged[key] = value
	}
	for key, value := range platform.DefaultVariables {
		merged[key] = value
	}
	return merged
}

// checkImage resolves the task image against its registry and pins the pod's
// user container by digest.
func (a *Admitter) checkImage(ctx context.Context, registry *RegistryValidator,
	user string, task *compiler.CompiledTask) error {
	ref, err := parseImageRef(task.Spec.Image)
	if err != nil {
		return err
	}
	var auth *RegistryAuth
	regCred, err := a.creds.FindRegistryCredential(ctx, user, ref.host)
	if err != nil {
		return err
	}
	if regCred != nil {
		auth = &RegistryAuth{Username: regCred.Username, Password: regCred.Password}
	}
	pinned, err := registry.ValidateImage(ctx, task.Spec.Image, auth)
	if err != nil {
		return err
	}
	if pinned != task.Spec.Image {
		setUserContainerImage(task.Pod, pinned)
	}
	return nil
}

func setUserContainerImage(pod map[string]interface{}, image string) {
	containers, _ := pod["containers"].([]interface{})
	for _, item := range containers {
		container, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if container["name"] == compiler.UserContainerName {
			container["image"] = image
		}
	}
}

// checkDataAccess enforces the data-store ACL: READ on url inputs, WRITE on
// outputs. Missing credentials pass through; backends with environment auth
// take over at run time, and a backend without it fails the task there.
func (a *Admitter) checkDataAccess(ctx context.Context, user string, task *compiler.CompiledTask) error {
	for _, input := range task.Spec.Inputs {
		if input.URL == "" {
			continue
		}
		if _, err := a.creds.FindDataCredential(ctx, user, input.URL, credentials.AccessRead); err != nil {
			return err
		}
	}
	for _, output := range task.Spec.Outputs {
		if _, err := a.creds.FindDataCredential(ctx, user, output, credentials.AccessWrite); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the workflow, group and task rows and uploads the spec
// artifacts. The workflow row goes first so its allocated id keys the rest.
func (a *Admitter) persist(ctx context.Context, req *Request,
	compiled *compiler.CompiledWorkflow, pool *v1.Pool, rendered string) (string, error) {
	now := time.Now().UTC()
	row := &dbclient.Workflow{
		WorkflowUuid: compiled.WorkflowUuid,
		Name:         compiled.Doc.Workflow.Name,
		SubmittedBy:  req.Submit.User,
		Backend:      pool.Backend,
		Pool:         compiled.PoolName,
		Priority:     string(req.Submit.Priority),
		Status:       string(v1.WorkflowPending),
		SubmitTime:   pq.NullTime{Time: now, Valid: true},
		ExecTimeout:  int64(compiled.ExecTimeout.Seconds()),
		QueueTimeout: int64(compiled.QueueTimeout.Seconds()),
	}
	if req.Submit.ParentName != "" {
		row.ParentName = nullString(req.Submit.ParentName)
		row.ParentJobId.Int64 = req.Submit.ParentJobId
		row.ParentJobId.Valid = true
	}
	if req.Submit.AppUuid != "" {
		row.AppUuid = nullString(req.Submit.AppUuid)
		row.AppVersion = nullString(req.Submit.AppVersion)
	}
	tags := append(append([]string{}, compiled.Doc.Workflow.Tags...), req.Submit.Tags...)
	if len(tags) > 0 {
		encoded, err := json.Marshal(tags)
		if err != nil {
			return "", commonerrors.NewInternalError(err.Error())
		}
		row.Tags = nullString(string(encoded))
	}
	if err := a.db.InsertWorkflow(ctx, row); err != nil {
		return "", err
	}
	workflowId := row.WorkflowId

	groups := make([]*dbclient.TaskGroup, 0, len(compiled.Groups))
	var tasks []*dbclient.Task
	for _, group := range compiled.Groups {
		groupRow, err := groupRow(workflowId, group, now)
		if err != nil {
			return "", err
		}
		groups = append(groups, groupRow)
		for _, task := range group.Tasks {
			taskRow, err := taskRow(workflowId, group.Spec.Name, task)
			if err != nil {
				return "", err
			}
			tasks = append(tasks, taskRow)
		}
	}
	if err := a.db.InsertTaskGroups(ctx, groups); err != nil {
		return "", err
	}
	if err := a.db.InsertTasks(ctx, tasks); err != nil {
		return "", err
	}

	if a.objects != nil {
		if err := a.objects.PutObject(ctx,
			s3.WorkflowSpecKey(workflowId), strings.NewReader(req.SpecText)); err != nil {
			klog.ErrorS(err, "failed to store workflow spec artifact", "workflow", workflowId)
		}
		if err := a.objects.PutObject(ctx,
			s3.TemplatedSpecKey(workflowId), strings.NewReader(rendered)); err != nil {
			klog.ErrorS(err, "failed to store templated spec artifact", "workflow", workflowId)
		}
	}
	klog.Infof("admitted workflow %s with %d groups and %d tasks",
		workflowId, len(groups), len(tasks))
	return workflowId, nil
}

// groupRow stores the full compiled group, pods included, so the dispatcher
// can rebuild its launch state from the row after a restart.
func groupRow(workflowId string, group *compiler.CompiledGroup, now time.Time) (*dbclient.TaskGroup, error) {
	spec, err := json.Marshal(group)
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	row := &dbclient.TaskGroup{
		GroupUuid:  group.GroupUuid,
		WorkflowId: workflowId,
		Name:       group.Spec.Name,
		Spec:       string(spec),
		Status:     string(v1.GroupPending),
		Barrier:    group.Spec.Barrier,
		CreatedAt:  pq.NullTime{Time: now, Valid: true},
	}
	if encoded, err := encodeNames(group.Upstream); err != nil {
		return nil, err
	} else if encoded != "" {
		row.RemainingUpstreamGroups = nullString(encoded)
	}
	if encoded, err := encodeNames(group.Downstream); err != nil {
		return nil, err
	} else if encoded != "" {
		row.DownstreamGroups = nullString(encoded)
	}
	return row, nil
}

func taskRow(workflowId, groupName string, task *compiler.CompiledTask) (*dbclient.Task, error) {
	row := &dbclient.Task{
		TaskDbKey:  task.TaskDbKey,
		TaskUuid:   task.TaskUuid,
		WorkflowId: workflowId,
		Name:       task.Spec.Name,
		RetryId:    0,
		GroupName:  groupName,
		Status:     string(v1.TaskWaiting),
		Cpu:        task.Resource.CPU,
		Gpu:        task.Resource.GPU,
		Lead:       task.Spec.Lead,
	}
	var err error
	if row.MemoryBytes, err = quantityBytes(task.Resource.Memory); err != nil {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf(
			"task %s has invalid memory %q", task.Spec.Name, task.Resource.Memory))
	}
	if row.StorageBytes, err = quantityBytes(task.Resource.Storage); err != nil {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf(
			"task %s has invalid storage %q", task.Spec.Name, task.Resource.Storage))
	}
	if len(task.Spec.ExitActions) > 0 {
		encoded, err := json.Marshal(task.Spec.ExitActions)
		if err != nil {
			return nil, commonerrors.NewInternalError(err.Error())
		}
		row.ExitActions = nullString(string(encoded))
	}
	return row, nil
}

func quantityBytes(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	quantity, err := resource.ParseQuantity(value)
	if err != nil {
		return 0, err
	}
	return quantity.Value(), nil
}

func encodeNames(names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return "", commonerrors.NewInternalError(err.Error())
	}
	return string(encoded), nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: true}
}
