/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backend

import (
	"context"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/quantity"
)

const (
	gpuResource = corev1.ResourceName("nvidia.com/gpu")

	heartbeatInterval = 2 * time.Minute
	watchRetryDelay   = 5 * time.Second
	// watches are re-established periodically so a silently dead
	// connection cannot stall the event stream forever
	watchTimeoutSeconds int64 = 1800
	eventBuffer               = 256
)

// PoolSource provides the current pool table. The backend needs it to
// derive each node's pool/platform assignments.
type PoolSource interface {
	Pools(ctx context.Context) (map[string]*v1.Pool, error)
}

// Kubernetes drives one cluster through the typed and dynamic clients.
type Kubernetes struct {
	name            string
	namespace       string
	conditionPrefix string
	clientset       kubernetes.Interface
	dynamic         dynamic.Interface
	pools           PoolSource
}

func NewKubernetes(settings *v1.Backend, cfg *rest.Config, pools PoolSource) (*Kubernetes, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	dynamicClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Kubernetes{
		name:            settings.Name,
		namespace:       settings.K8sNamespace,
		conditionPrefix: settings.NodeConditions.Prefix,
		clientset:       clientset,
		dynamic:         dynamicClient,
		pools:           pools,
	}, nil
}

// newKubernetesWithClients is the test seam.
func newKubernetesWithClients(settings *v1.Backend, clientset kubernetes.Interface,
	dynamicClient dynamic.Interface, pools PoolSource) *Kubernetes {
	return &Kubernetes{
		name:            settings.Name,
		namespace:       settings.K8sNamespace,
		conditionPrefix: settings.NodeConditions.Prefix,
		clientset:       clientset,
		dynamic:         dynamicClient,
		pools:           pools,
	}
}

func (k *Kubernetes) Name() string {
	return k.name
}

func (k *Kubernetes) ApplyCleanupSpecs(ctx context.Context, cleanup []v1.CleanupSpec,
	objects []*unstructured.Unstructured) error {
	for _, spec := range cleanup {
		gvr, err := cleanupGVR(spec)
		if err != nil {
			return err
		}
		selector := labels.SelectorFromSet(spec.Labels).String()
		err = k.dynamic.Resource(gvr).Namespace(k.namespace).DeleteCollection(ctx,
			metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: selector})
		if err != nil && !apierrors.IsNotFound(err) {
			return err
		}
		klog.Infof("backend %s cleaned up %s matching %q", k.name, gvr.Resource, selector)
	}
	for _, obj := range objects {
		if err := k.applyObject(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kubernetes) applyObject(ctx context.Context, obj *unstructured.Unstructured) error {
	gvr := resourceFor(obj.GroupVersionKind())
	resource := k.dynamic.Resource(gvr).Namespace(k.namespace)
	created, err := resource.Create(ctx, obj, metav1.CreateOptions{})
	if err == nil {
		klog.Infof("backend %s created %s %s/%s", k.name, gvr.Resource,
			created.GetNamespace(), created.GetName())
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}
	existing, err := resource.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if err != nil {
		return err
	}
	obj = obj.DeepCopy()
	obj.SetResourceVersion(existing.GetResourceVersion())
	_, err = resource.Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return err
	}
	klog.Infof("backend %s updated %s %s/%s", k.name, gvr.Resource, k.namespace, obj.GetName())
	return nil
}

// ListenEvents starts the pod watcher, the node watcher and the heartbeat
// ticker. The channel closes when ctx is cancelled.
func (k *Kubernetes) ListenEvents(ctx context.Context) (<-chan *Event, error) {
	events := make(chan *Event, eventBuffer)
	go k.watchPods(ctx, events)
	go k.watchNodes(ctx, events)
	go k.heartbeat(ctx, events)
	return events, nil
}

func (k *Kubernetes) watchPods(ctx context.Context, events chan<- *Event) {
	for ctx.Err() == nil {
		watcher, err := k.clientset.CoreV1().Pods(k.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:  v1.PoolLabel,
			TimeoutSeconds: ptr.To(watchTimeoutSeconds),
		})
		if err != nil {
			klog.ErrorS(err, "pod watch failed, retrying", "backend", k.name)
			sleep(ctx, watchRetryDelay)
			continue
		}
		k.drainPodEvents(ctx, watcher, events)
	}
}

func (k *Kubernetes) drainPodEvents(ctx context.Context, watcher watch.Interface, events chan<- *Event) {
	defer watcher.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-watcher.ResultChan():
			if !ok {
				return
			}
			pod, isPod := item.Object.(*corev1.Pod)
			if !isPod {
				continue
			}
			reason := pod.Status.Reason
			if reason == "" {
				reason = waitingContainerReason(pod)
			}
			emit(ctx, events, &Event{
				Backend: k.name,
				Type:    EventPodPhase,
				PodPhase: &PodPhaseEvent{
					PodName:      pod.Name,
					TaskUuid:     pod.Labels[v1.TaskUuidLabel],
					WorkflowUuid: pod.Labels[v1.WorkflowUuidLabel],
					NodeName:     pod.Spec.NodeName,
					Phase:        pod.Status.Phase,
					Reason:       reason,
					Message:      pod.Status.Message,
				},
			})
		}
	}
}

// waitingContainerReason surfaces the first waiting reason of a pending
// pod's containers; image pull failures only ever show up here.
func waitingContainerReason(pod *corev1.Pod) string {
	statuses := append(append([]corev1.ContainerStatus{},
		pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for i := range statuses {
		if waiting := statuses[i].State.Waiting; waiting != nil && waiting.Reason != "" {
			return waiting.Reason
		}
	}
	return ""
}

func (k *Kubernetes) watchNodes(ctx context.Context, events chan<- *Event) {
	for ctx.Err() == nil {
		watcher, err := k.clientset.CoreV1().Nodes().Watch(ctx, metav1.ListOptions{
			TimeoutSeconds: ptr.To(watchTimeoutSeconds),
		})
		if err != nil {
			klog.ErrorS(err, "node watch failed, retrying", "backend", k.name)
			sleep(ctx, watchRetryDelay)
			continue
		}
		k.drainNodeEvents(ctx, watcher, events)
	}
}

func (k *Kubernetes) drainNodeEvents(ctx context.Context, watcher watch.Interface, events chan<- *Event) {
	defer watcher.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-watcher.ResultChan():
			if !ok {
				return
			}
			node, isNode := item.Object.(*corev1.Node)
			if !isNode {
				continue
			}
			conditions := k.filterConditions(node.Status.Conditions)
			if len(conditions) == 0 {
				continue
			}
			emit(ctx, events, &Event{
				Backend: k.name,
				Type:    EventNodeConditions,
				NodeConditions: &NodeConditionsEvent{
					Hostname:   node.Name,
					Conditions: conditions,
				},
			})
		}
	}
}

// filterConditions keeps Ready plus any condition type carrying the
// configured prefix.
func (k *Kubernetes) filterConditions(conditions []corev1.NodeCondition) []corev1.NodeCondition {
	var kept []corev1.NodeCondition
	for _, condition := range conditions {
		if condition.Type == corev1.NodeReady {
			kept = append(kept, condition)
			continue
		}
		if k.conditionPrefix != "" && strings.HasPrefix(string(condition.Type), k.conditionPrefix) {
			kept = append(kept, condition)
		}
	}
	return kept
}

func (k *Kubernetes) heartbeat(ctx context.Context, events chan<- *Event) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	emit(ctx, events, &Event{Backend: k.name, Type: EventHeartbeat,
		Heartbeat: &HeartbeatEvent{Time: time.Now()}})
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			emit(ctx, events, &Event{Backend: k.name, Type: EventHeartbeat,
				Heartbeat: &HeartbeatEvent{Time: now}})
		}
	}
}

func emit(ctx context.Context, events chan<- *Event, event *Event) {
	select {
	case <-ctx.Done():
	case events <- event:
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// GetResources lists nodes, splits GPU usage between workflow pods and
// everything else, and derives the exposed fields admission evaluates
// per node.
func (k *Kubernetes) GetResources(ctx context.Context) ([]*v1.ResourceEntry, error) {
	nodes, err := k.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	pods, err := k.clientset.CoreV1().Pods(corev1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	pools, err := k.pools.Pools(ctx)
	if err != nil {
		return nil, err
	}

	workflowUsage := map[string]corev1.ResourceList{}
	otherUsage := map[string]corev1.ResourceList{}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Spec.NodeName == "" || pod.Status.Phase == corev1.PodSucceeded ||
			pod.Status.Phase == corev1.PodFailed {
			continue
		}
		requests := podRequests(pod)
		if len(requests) == 0 {
			continue
		}
		if _, owned := pod.Labels[v1.WorkflowUuidLabel]; owned {
			workflowUsage[pod.Spec.NodeName] = quantity.AddResource(
				workflowUsage[pod.Spec.NodeName], requests)
		} else {
			otherUsage[pod.Spec.NodeName] = quantity.AddResource(
				otherUsage[pod.Spec.NodeName], requests)
		}
	}

	entries := make([]*v1.ResourceEntry, 0, len(nodes.Items))
	for i := range nodes.Items {
		node := &nodes.Items[i]
		entry := &v1.ResourceEntry{
			Backend:          k.name,
			Hostname:         node.Name,
			Labels:           node.Labels,
			Taints:           node.Spec.Taints,
			Allocatable:      node.Status.Allocatable,
			Usage:            gpuCount(workflowUsage[node.Name]),
			NonWorkflowUsage: gpuCount(otherUsage[node.Name]),
		}
		used := quantity.AddResource(workflowUsage[node.Name], otherUsage[node.Name])
		entry.ExposedFields = k.exposedFields(node, used, pools)
		entries = append(entries, entry)
	}
	return entries, nil
}

// podRequests sums the container resource requests of one pod.
func podRequests(pod *corev1.Pod) corev1.ResourceList {
	lists := make([]corev1.ResourceList, 0, len(pod.Spec.Containers))
	for i := range pod.Spec.Containers {
		lists = append(lists, pod.Spec.Containers[i].Resources.Requests)
	}
	return quantity.AddResource(lists...)
}

func gpuCount(requests corev1.ResourceList) int64 {
	gpus := requests[gpuResource]
	return gpus.Value()
}

func (k *Kubernetes) exposedFields(node *corev1.Node, used corev1.ResourceList,
	pools map[string]*v1.Pool) map[string]interface{} {
	allocatable := node.Status.Allocatable
	free := quantity.SubResource(allocatable, used)
	fields := map[string]interface{}{
		"hostname":            node.Name,
		"gpu_allocatable":     allocatable.Name(gpuResource, resource.DecimalSI).Value(),
		"gpu_free":            free.Name(gpuResource, resource.DecimalSI).Value(),
		"cpu_allocatable":     allocatable.Cpu().Value(),
		"cpu_free":            free.Cpu().Value(),
		"memory_allocatable":  allocatable.Memory().Value(),
		"memory_free":         free.Memory().Value(),
		"storage_allocatable": allocatable.StorageEphemeral().Value(),
	}
	var memberships []interface{}
	for poolName, pool := range pools {
		if pool.Backend != k.name {
			continue
		}
		for platformName, platform := range pool.Platforms {
			if nodeMatchesPlatform(node, &platform) {
				memberships = append(memberships, poolName+"/"+platformName)
			}
		}
	}
	fields[v1.PoolPlatformField] = memberships
	return fields
}

// nodeMatchesPlatform requires every platform label on the node and every
// node taint tolerated by the platform.
func nodeMatchesPlatform(node *corev1.Node, platform *v1.Platform) bool {
	for key, value := range platform.Labels {
		if node.Labels[key] != value {
			return false
		}
	}
	for i := range node.Spec.Taints {
		taint := &node.Spec.Taints[i]
		tolerated := false
		for j := range platform.Tolerations {
			if platform.Tolerations[j].ToleratesTaint(taint) {
				tolerated = true
				break
			}
		}
		if !tolerated {
			return false
		}
	}
	return true
}

var coreKinds = map[string]string{
	"Pod":       "pods",
	"Service":   "services",
	"ConfigMap": "configmaps",
	"Secret":    "secrets",
}

// resourceFor maps a GVK to its resource without a discovery round trip;
// the bridge only emits a small closed set of kinds.
func resourceFor(gvk schema.GroupVersionKind) schema.GroupVersionResource {
	if plural, ok := coreKinds[gvk.Kind]; ok && gvk.Group == "" {
		return schema.GroupVersionResource{Version: gvk.Version, Resource: plural}
	}
	return schema.GroupVersionResource{
		Group:    gvk.Group,
		Version:  gvk.Version,
		Resource: pluralize(gvk.Kind),
	}
}

func pluralize(kind string) string {
	lower := strings.ToLower(kind)
	if strings.HasSuffix(lower, "y") {
		return lower[:len(lower)-1] + "ies"
	}
	if strings.HasSuffix(lower, "s") {
		return lower + "es"
	}
	return lower + "s"
}

func cleanupGVR(spec v1.CleanupSpec) (schema.GroupVersionResource, error) {
	if spec.CustomAPI != nil {
		return schema.GroupVersionResource{
			Group:    spec.CustomAPI.Group,
			Version:  spec.CustomAPI.Version,
			Resource: spec.CustomAPI.Plural,
		}, nil
	}
	switch spec.ResourceType {
	case "pods":
		return schema.GroupVersionResource{Version: "v1", Resource: "pods"}, nil
	}
	return schema.GroupVersionResource{Version: "v1", Resource: spec.ResourceType}, nil
}
