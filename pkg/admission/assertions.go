/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package admission

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/quantity"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/poolquota"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/jsonutils"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/lru"
)

// Assertion results are memoized: static results by the resource spec, so a
// workflow with 100 identical tasks evaluates each rule once.
var staticAssertionCache = lru.New[error](1024)

// SplitAssertions separates rules evaluated once per resource spec from
// rules that reference K8_* node facts and run per candidate node.
func SplitAssertions(assertions []v1.ResourceAssertion) (static, perNode []v1.ResourceAssertion) {
	for _, assertion := range assertions {
		if compiler.HasK8Token(assertion.LeftOperand) || compiler.HasK8Token(assertion.RightOperand) {
			perNode = append(perNode, assertion)
		} else {
			static = append(static, assertion)
		}
	}
	return static, perNode
}

// EvaluateStatic runs the USER_*-only assertions for one resource spec.
// Failure rejects admission outright.
func EvaluateStatic(assertions []v1.ResourceAssertion, spec *v1.ResourceSpec, tokens compiler.TokenMap) error {
	if len(assertions) == 0 {
		return nil
	}
	cacheKey := staticCacheKey(assertions, spec)
	if cached, ok := staticAssertionCache.Get(cacheKey); ok {
		return cached
	}
	var result error
	for _, assertion := range assertions {
		if err := evaluateAssertion(&assertion, tokens); err != nil {
			result = err
			break
		}
	}
	staticAssertionCache.Put(cacheKey, result)
	return result
}

// NodeRejection explains why one candidate node was refused.
type NodeRejection struct {
	Hostname string
	Reason   string
}

// EvaluatePerNode returns nil when at least one candidate passes every
// assertion; otherwise a NoNodeSatisfied error carrying the rejection table.
func EvaluatePerNode(assertions []v1.ResourceAssertion, tokens compiler.TokenMap,
	candidates []*v1.ResourceEntry) error {
	if len(assertions) == 0 {
		return nil
	}
	if len(candidates) == 0 {
		return commonerrors.NewNoNodeSatisfied("no candidate nodes in the pool")
	}
	var rejections []NodeRejection
	for _, node := range candidates {
		nodeTokens := withNodeTokens(tokens, node)
		var failure error
		for _, assertion := range assertions {
			if err := evaluateAssertion(&assertion, nodeTokens); err != nil {
				failure = err
				break
			}
		}
		if failure == nil {
			return nil
		}
		rejections = append(rejections, NodeRejection{
			Hostname: node.Hostname,
			Reason:   failure.Error(),
		})
	}
	return commonerrors.NewNoNodeSatisfied(formatRejectionTable(rejections))
}

// RequestList converts a resource spec into the node-fit request evaluated
// against each candidate's allocatable.
func RequestList(spec *v1.ResourceSpec) (corev1.ResourceList, error) {
	request := corev1.ResourceList{}
	if spec == nil {
		return request, nil
	}
	if spec.CPU > 0 {
		request[corev1.ResourceCPU] = *resource.NewMilliQuantity(
			int64(spec.CPU*1000), resource.DecimalSI)
	}
	if spec.GPU > 0 {
		request[corev1.ResourceName(poolquota.GpuResourceName)] = *resource.NewQuantity(
			spec.GPU, resource.DecimalSI)
	}
	if spec.Memory != "" {
		q, err := resource.ParseQuantity(spec.Memory)
		if err != nil {
			return nil, commonerrors.NewBadRequest(fmt.Sprintf("invalid memory %q", spec.Memory))
		}
		request[corev1.ResourceMemory] = q
	}
	if spec.Storage != "" {
		q, err := resource.ParseQuantity(spec.Storage)
		if err != nil {
			return nil, commonerrors.NewBadRequest(fmt.Sprintf("invalid storage %q", spec.Storage))
		}
		request[corev1.ResourceEphemeralStorage] = q
	}
	return request, nil
}

// FilterByCapacity keeps candidates whose allocatable covers the request,
// with a rejection-table entry per dropped node.
func FilterByCapacity(request corev1.ResourceList, candidates []*v1.ResourceEntry) (
	[]*v1.ResourceEntry, []NodeRejection) {
	if len(request) == 0 {
		return candidates, nil
	}
	var fit []*v1.ResourceEntry
	var rejections []NodeRejection
	for _, node := range candidates {
		ok, short := quantity.IsSubResource(request, node.Allocatable)
		if !ok {
			want := request[corev1.ResourceName(short)]
			rejections = append(rejections, NodeRejection{
				Hostname: node.Hostname,
				Reason:   fmt.Sprintf("request of %s %s exceeds allocatable", want.String(), short),
			})
			continue
		}
		fit = append(fit, node)
	}
	return fit, rejections
}

// withNodeTokens overlays the node's exposed fields as K8_* tokens.
func withNodeTokens(tokens compiler.TokenMap, node *v1.ResourceEntry) compiler.TokenMap {
	merged := make(compiler.TokenMap, len(tokens)+len(node.ExposedFields))
	for key, value := range tokens {
		merged[key] = value
	}
	for field, value := range node.ExposedFields {
		if field == v1.PoolPlatformField {
			continue
		}
		merged[fieldToken(field)] = value
	}
	return merged
}

func fieldToken(field string) string {
	token := strings.ToUpper(field)
	token = strings.NewReplacer("/", "_", ".", "_", "-", "_").Replace(token)
	if !strings.HasPrefix(token, compiler.K8TokenPrefix) {
		token = compiler.K8TokenPrefix + token
	}
	return token
}

func evaluateAssertion(assertion *v1.ResourceAssertion, tokens compiler.TokenMap) error {
	left, err := compiler.RenderAssertionOperand(assertion.LeftOperand, tokens)
	if err != nil {
		return commonerrors.NewBadRequest(err.Error())
	}
	right, err := compiler.RenderAssertionOperand(assertion.RightOperand, tokens)
	if err != nil {
		return commonerrors.NewBadRequest(err.Error())
	}
	ok, err := compareOperands(assertion.Operator, left, right)
	if err != nil {
		return commonerrors.NewBadRequest(err.Error())
	}
	if !ok {
		message := assertion.AssertMessage
		if message == "" {
			message = fmt.Sprintf("assertion failed: %s %s %s", left, assertion.Operator, right)
		}
		return commonerrors.NewBadRequest(message)
	}
	return nil
}

// compareOperands compares numerically when both sides parse as numbers,
// lexically otherwise. EQ/NEQ accept either form.
func compareOperands(op v1.AssertOperator, left, right string) (bool, error) {
	lv, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
	rv, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case v1.OperatorEQ:
		if numeric {
			return lv == rv, nil
		}
		return left == right, nil
	case v1.OperatorNEQ:
		if numeric {
			return lv != rv, nil
		}
		return left != right, nil
	}
	if !numeric {
		return false, fmt.Errorf("operator %s requires numeric operands, got %q and %q", op, left, right)
	}
	switch op {
	case v1.OperatorLE:
		return lv <= rv, nil
	case v1.OperatorLT:
		return lv < rv, nil
	case v1.OperatorGE:
		return lv >= rv, nil
	case v1.OperatorGT:
		return lv > rv, nil
	default:
		return false, fmt.Errorf("unknown assert operator %q", op)
	}
}

func staticCacheKey(assertions []v1.ResourceAssertion, spec *v1.ResourceSpec) string {
	return string(jsonutils.MarshalSilently(assertions)) + "|" + string(jsonutils.MarshalSilently(spec))
}

func formatRejectionTable(rejections []NodeRejection) string {
	sort.Slice(rejections, func(i, j int) bool {
		return rejections[i].Hostname < rejections[j].Hostname
	})
	var b strings.Builder
	b.WriteString("NODE\tREASON\n")
	for _, r := range rejections {
		fmt.Fprintf(&b, "%s\t%s\n", r.Hostname, r.Reason)
	}
	return b.String()
}

// PodSecurityKey memoizes privileged/hostNetwork/volume-mount checks per
// platform; two tasks with identical security posture validate once.
func PodSecurityKey(task *v1.TaskSpec, platform string) string {
	mounts := make([]string, 0, len(task.VolumeMounts))
	for _, m := range task.VolumeMounts {
		mounts = append(mounts, m.Name+":"+m.MountPath)
	}
	sort.Strings(mounts)
	return fmt.Sprintf("%t|%t|%s|%s", task.Privileged, task.HostNetwork,
		strings.Join(mounts, ","), platform)
}

var podSecurityCache = lru.New[error](1024)

// CheckPodSecurity enforces the platform's security policy on one task:
// privileged mode and host networking need an explicit platform opt-in, and
// volume mounts must sit under an allowed path when the platform lists any.
func CheckPodSecurity(task *v1.TaskSpec, platformName string, platform *v1.Platform) error {
	key := PodSecurityKey(task, platformName) + "|" +
		string(jsonutils.MarshalSilently([]interface{}{
			platform.AllowPrivileged, platform.AllowHostNetwork, platform.AllowedMountPaths}))
	if cached, ok := podSecurityCache.Get(key); ok {
		return cached
	}
	result := checkPodSecurity(task, platformName, platform)
	podSecurityCache.Put(key, result)
	return result
}

func checkPodSecurity(task *v1.TaskSpec, platformName string, platform *v1.Platform) error {
	if task.Privileged && !platform.AllowPrivileged {
		return commonerrors.NewBadRequest(fmt.Sprintf(
			"task %s requests privileged mode, which platform %s does not allow",
			task.Name, platformName))
	}
	if task.HostNetwork && !platform.AllowHostNetwork {
		return commonerrors.NewBadRequest(fmt.Sprintf(
			"task %s requests host networking, which platform %s does not allow",
			task.Name, platformName))
	}
	if len(platform.AllowedMountPaths) == 0 {
		return nil
	}
	for _, mount := range task.VolumeMounts {
		if !mountPathAllowed(mount.MountPath, platform.AllowedMountPaths) {
			return commonerrors.NewBadRequest(fmt.Sprintf(
				"task %s mounts %s outside the paths platform %s allows",
				task.Name, mount.MountPath, platformName))
		}
	}
	return nil
}

func mountPathAllowed(path string, allowed []string) bool {
	for _, prefix := range allowed {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
