/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/backend"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/configstore"
	"github.com/NVIDIA/OSMO-sub000/pkg/scheduler"
	"github.com/NVIDIA/OSMO-sub000/pkg/state"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// CRD coordinates for the gang-scheduler objects the bridges emit.
const (
	podGroupAPIVersion = "scheduling.run.ai/v2alpha2"
	queueAPIVersion    = "scheduling.run.ai/v2"
	topologyAPIVersion = "kueue.x-k8s.io/v1alpha1"
)

// Dispatcher hands compiled groups to their backend through the scheduler
// bridge. Launch state is cached in memory and rebuilt from the task_group
// rows on demand, so a restarted server resumes where it left off.
type Dispatcher struct {
	db       dbclient.Interface
	backends *backend.Manager
	store    *configstore.Store
	machine  *state.Machine

	mu        sync.Mutex
	workflows map[string]*launchState
}

type launchState struct {
	meta     *scheduler.WorkflowMeta
	pool     *v1.Pool
	settings *v1.Backend
	groups   map[string]*compiler.CompiledGroup
}

func NewDispatcher(db dbclient.Interface, backends *backend.Manager,
	store *configstore.Store, machine *state.Machine) *Dispatcher {
	return &Dispatcher{
		db:        db,
		backends:  backends,
		store:     store,
		machine:   machine,
		workflows: map[string]*launchState{},
	}
}

// Track registers an admitted workflow and launches every group with no
// upstream dependencies.
func (d *Dispatcher) Track(ctx context.Context, workflowId string,
	compiled *compiler.CompiledWorkflow, user string, priority v1.Priority) error {
	var pool v1.Pool
	if err := d.store.GetTyped(ctx, v1.ConfigPool, compiled.PoolName, &pool); err != nil {
		return err
	}
	var settings v1.Backend
	if err := d.store.GetTyped(ctx, v1.ConfigBackend, pool.Backend, &settings); err != nil {
		return err
	}
	settings.Name = pool.Backend

	launch := &launchState{
		meta: &scheduler.WorkflowMeta{
			WorkflowId:   workflowId,
			WorkflowUuid: compiled.WorkflowUuid,
			User:         user,
			Pool:         compiled.PoolName,
			Priority:     priority,
			Namespace:    settings.K8sNamespace,
		},
		pool:     &pool,
		settings: &settings,
		groups:   map[string]*compiler.CompiledGroup{},
	}
	for _, group := range compiled.Groups {
		launch.groups[group.Spec.Name] = group
	}
	d.mu.Lock()
	d.workflows[workflowId] = launch
	d.mu.Unlock()

	if err := d.EnsurePoolObjects(ctx, compiled.PoolName); err != nil {
		return err
	}
	for _, group := range compiled.Groups {
		if len(group.Upstream) > 0 {
			continue
		}
		if err := d.LaunchGroup(ctx, workflowId, group.Spec.Name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) launchState(ctx context.Context, workflowId string) (*launchState, error) {
	d.mu.Lock()
	launch, ok := d.workflows[workflowId]
	d.mu.Unlock()
	if ok {
		return launch, nil
	}
	return d.restoreLaunchState(ctx, workflowId)
}

// restoreLaunchState rebuilds a workflow's launch state from the durable
// rows: the workflow row supplies the meta, the task_group spec column the
// compiled groups.
func (d *Dispatcher) restoreLaunchState(ctx context.Context, workflowId string) (*launchState, error) {
	workflow, err := d.db.GetWorkflow(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	var pool v1.Pool
	if err = d.store.GetTyped(ctx, v1.ConfigPool, workflow.Pool, &pool); err != nil {
		return nil, err
	}
	var settings v1.Backend
	if err = d.store.GetTyped(ctx, v1.ConfigBackend, pool.Backend, &settings); err != nil {
		return nil, err
	}
	settings.Name = pool.Backend

	rows, err := d.db.GetTaskGroups(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]*compiler.CompiledGroup, len(rows))
	for _, row := range rows {
		group := &compiler.CompiledGroup{}
		if err = json.Unmarshal([]byte(row.Spec), group); err != nil {
			return nil, commonerrors.NewInternalError(fmt.Sprintf(
				"corrupt spec for group %s of workflow %s: %v", row.Name, workflowId, err))
		}
		groups[row.Name] = group
	}

	launch := &launchState{
		meta: &scheduler.WorkflowMeta{
			WorkflowId:   workflowId,
			WorkflowUuid: workflow.WorkflowUuid,
			User:         workflow.SubmittedBy,
			Pool:         workflow.Pool,
			Priority:     v1.Priority(workflow.Priority),
			Namespace:    settings.K8sNamespace,
		},
		pool:     &pool,
		settings: &settings,
		groups:   groups,
	}
	d.mu.Lock()
	d.workflows[workflowId] = launch
	d.mu.Unlock()
	klog.Infof("restored launch state for workflow %s (%d groups)", workflowId, len(groups))
	return launch, nil
}

// LaunchGroup reclaims any stale attempt of the group, applies the new gang
// objects and moves the group's tasks to SUBMITTING.
func (d *Dispatcher) LaunchGroup(ctx context.Context, workflowId, groupName string) error {
	launch, err := d.launchState(ctx, workflowId)
	if err != nil {
		return err
	}
	group, ok := launch.groups[groupName]
	if !ok {
		return commonerrors.NewNotFound("TaskGroup", groupName)
	}
	if err = d.refreshTaskUuids(ctx, workflowId, group); err != nil {
		return err
	}
	bridge, err := scheduler.New(launch.settings.Scheduler)
	if err != nil {
		return err
	}
	plan, err := bridge.PlanGroup(launch.meta, group, launch.pool)
	if err != nil {
		return err
	}

	cluster, err := d.backends.Get(launch.pool.Backend)
	if err != nil {
		return err
	}
	objects, err := planObjects(plan, launch.meta.Namespace)
	if err != nil {
		return err
	}
	cleanup := bridge.GroupCleanup(launch.meta, group)
	if err = cluster.ApplyCleanupSpecs(ctx, cleanup, objects); err != nil {
		dispatchErrors.WithLabelValues(launch.pool.Backend).Inc()
		return err
	}
	groupsDispatched.WithLabelValues(launch.pool.Backend).Inc()
	klog.Infof("dispatched group %s of workflow %s to backend %s (%d pods)",
		groupName, workflowId, launch.pool.Backend, len(plan.Pods))

	for _, pod := range plan.Pods {
		if _, err = d.machine.MoveTask(ctx, pod.TaskUuid,
			v1.TaskWaiting, v1.TaskSubmitting); err != nil {
			return err
		}
	}
	return nil
}

// refreshTaskUuids points the compiled tasks at the current attempt rows, so
// a re-dispatch after a retry emits pods under the new attempt uuids.
func (d *Dispatcher) refreshTaskUuids(ctx context.Context, workflowId string,
	group *compiler.CompiledGroup) error {
	rows, err := d.db.GetCurrentTasksOfGroup(ctx, workflowId, group.Spec.Name)
	if err != nil {
		return err
	}
	current := make(map[string]*dbclient.Task, len(rows))
	for _, row := range rows {
		current[utils.CanonicalName(row.Name)] = row
	}
	for _, task := range group.Tasks {
		if row, ok := current[utils.CanonicalName(task.Spec.Name)]; ok {
			task.TaskUuid = row.TaskUuid
		}
	}
	return nil
}

// LaunchUnblocked dispatches groups whose last upstream just completed.
func (d *Dispatcher) LaunchUnblocked(ctx context.Context, workflowId string,
	unblocked []*dbclient.TaskGroup) {
	for _, group := range unblocked {
		if err := d.LaunchGroup(ctx, workflowId, group.Name); err != nil {
			klog.ErrorS(err, "failed to dispatch unblocked group",
				"workflow", workflowId, "group", group.Name)
		}
	}
}

// RelaunchPending dispatches any group whose upstreams are satisfied but
// whose tasks never left WAITING. This is the restart-recovery path: a
// workflow admitted before a crash resumes from its rows alone.
func (d *Dispatcher) RelaunchPending(ctx context.Context, workflowId string) error {
	rows, err := d.db.GetTaskGroups(ctx, workflowId)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if v1.GroupStatus(row.Status) != v1.GroupPending || !upstreamSatisfied(row) {
			continue
		}
		tasks, err := d.db.GetCurrentTasksOfGroup(ctx, workflowId, row.Name)
		if err != nil {
			return err
		}
		if !allWaiting(tasks) {
			continue
		}
		if err = d.LaunchGroup(ctx, workflowId, row.Name); err != nil {
			klog.ErrorS(err, "failed to relaunch pending group",
				"workflow", workflowId, "group", row.Name)
		}
	}
	return nil
}

func upstreamSatisfied(group *dbclient.TaskGroup) bool {
	if !group.RemainingUpstreamGroups.Valid || group.RemainingUpstreamGroups.String == "" {
		return true
	}
	var remaining []string
	if err := json.Unmarshal([]byte(group.RemainingUpstreamGroups.String), &remaining); err != nil {
		return false
	}
	return len(remaining) == 0
}

func allWaiting(tasks []*dbclient.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if v1.TaskStatus(task.Status) != v1.TaskWaiting {
			return false
		}
	}
	return true
}

// ReleaseWorkflow reclaims every launched group's backend objects, e.g.
// after cancellation, and drops the workflow from tracking.
func (d *Dispatcher) ReleaseWorkflow(ctx context.Context, workflowId string) error {
	launch, err := d.launchState(ctx, workflowId)
	if err != nil {
		if commonerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	bridge, err := scheduler.New(launch.settings.Scheduler)
	if err != nil {
		return err
	}
	cluster, err := d.backends.Get(launch.pool.Backend)
	if err != nil {
		return err
	}
	var cleanup []v1.CleanupSpec
	for _, group := range launch.groups {
		cleanup = append(cleanup, bridge.GroupCleanup(launch.meta, group)...)
	}
	if err = cluster.ApplyCleanupSpecs(ctx, v1.MergeCleanupSpecs(cleanup), nil); err != nil {
		return err
	}
	d.Forget(workflowId)
	return nil
}

func (d *Dispatcher) Forget(workflowId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workflows, workflowId)
}

// EnsurePoolObjects applies the pool's Queue and Topology CRDs on its
// backend. Idempotent; called on startup and before the first dispatch.
func (d *Dispatcher) EnsurePoolObjects(ctx context.Context, poolName string) error {
	var pool v1.Pool
	if err := d.store.GetTyped(ctx, v1.ConfigPool, poolName, &pool); err != nil {
		return err
	}
	var settings v1.Backend
	if err := d.store.GetTyped(ctx, v1.ConfigBackend, pool.Backend, &settings); err != nil {
		return err
	}
	bridge, err := scheduler.New(settings.Scheduler)
	if err != nil {
		return err
	}
	queue, topology := bridge.PoolObjects(poolName, &pool, settings.K8sNamespace)
	var objects []*unstructured.Unstructured
	if queue != nil {
		obj, err := crdObject(queueAPIVersion, "Queue", queue.Name, settings.K8sNamespace,
			map[string]string{v1.PoolLabel: poolName}, queue)
		if err != nil {
			return err
		}
		objects = append(objects, obj)
	}
	if topology != nil {
		obj, err := crdObject(topologyAPIVersion, "Topology", topology.Name, settings.K8sNamespace,
			map[string]string{v1.PoolLabel: poolName}, topology)
		if err != nil {
			return err
		}
		objects = append(objects, obj)
	}
	if len(objects) == 0 {
		return nil
	}
	cluster, err := d.backends.Get(pool.Backend)
	if err != nil {
		return err
	}
	return cluster.ApplyCleanupSpecs(ctx, nil, objects)
}

// RemovePoolObjects reclaims a deleted pool's CRDs across every scheduler
// type, so switching schedulers leaves nothing behind.
func (d *Dispatcher) RemovePoolObjects(ctx context.Context, poolName, backendName string) error {
	var settings v1.Backend
	if err := d.store.GetTyped(ctx, v1.ConfigBackend, backendName, &settings); err != nil {
		return err
	}
	var cleanup [][]v1.CleanupSpec
	for _, schedulerType := range []v1.SchedulerType{v1.SchedulerKai, v1.SchedulerDefault} {
		bridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: schedulerType})
		if err != nil {
			continue
		}
		cleanup = append(cleanup, bridge.PoolCleanup(poolName, settings.K8sNamespace))
	}
	cluster, err := d.backends.Get(backendName)
	if err != nil {
		return err
	}
	return cluster.ApplyCleanupSpecs(ctx, v1.MergeCleanupSpecs(cleanup...), nil)
}

// planObjects converts a group plan into the unstructured objects the
// backend applies: the PodGroup CRD first, then the pods.
func planObjects(plan *scheduler.GroupPlan, namespace string) ([]*unstructured.Unstructured, error) {
	var objects []*unstructured.Unstructured
	if plan.PodGroup != nil {
		obj, err := crdObject(podGroupAPIVersion, "PodGroup", plan.PodGroup.Name,
			namespace, map[string]string{}, plan.PodGroup)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	for _, pod := range plan.Pods {
		objects = append(objects, podObject(pod, plan.PodGroup, namespace))
	}
	return objects, nil
}

// podObject materializes one planned pod. The plan's Spec is the composed
// pod fragment (containers, nodeSelector, tolerations, ...) and becomes the
// pod spec directly; scheduler name and priority class overlay it.
func podObject(plan *scheduler.PodPlan, podGroup *v1.PodGroup, namespace string) *unstructured.Unstructured {
	obj := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
	}
	spec := make(map[string]interface{}, len(plan.Spec)+2)
	for key, value := range plan.Spec {
		spec[key] = value
	}
	if plan.SchedulerName != "" {
		spec["schedulerName"] = plan.SchedulerName
	}
	if plan.PriorityClassName != "" {
		spec["priorityClassName"] = plan.PriorityClassName
	}
	labels := map[string]interface{}{}
	for key, value := range plan.Labels {
		labels[key] = value
	}
	metadata := map[string]interface{}{
		"name":      plan.Name,
		"namespace": namespace,
		"labels":    labels,
	}
	if podGroup != nil {
		metadata["annotations"] = map[string]interface{}{
			"pod-group-name": podGroup.Name,
		}
	}
	obj["metadata"] = metadata
	obj["spec"] = spec
	return &unstructured.Unstructured{Object: obj}
}

// crdObject wraps a typed CRD payload: the payload marshals into the spec.
func crdObject(apiVersion, kind, name, namespace string, objectLabels map[string]string,
	payload interface{}) (*unstructured.Unstructured, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	spec := map[string]interface{}{}
	if err = json.Unmarshal(encoded, &spec); err != nil {
		return nil, err
	}
	delete(spec, "name")
	delete(spec, "namespace")
	labels := map[string]interface{}{}
	for key, value := range objectLabels {
		labels[key] = value
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": spec,
	}}, nil
}
