package replicamanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"fleetscale/pkg/autoscaler"
	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
)

const (
	labelReplicaID   = "fleetscale.io/replica-id"
	labelAccelerator = "fleetscale.io/accelerator"
	labelPrimary     = "fleetscale.io/primary"
	labelOwner       = "fleetscale.io/owner-replica-id"
)

// KubernetesReplicaManager provisions one single-replica Deployment per
// fleetscale replica, labeled by replica id/accelerator class/primary flag
// so a crash-recovered control loop can reconcile against live cluster
// state rather than trusting only its own bookkeeping.
type KubernetesReplicaManager struct {
	client    kubernetes.Interface
	namespace string
	image     string

	nextID int64

	mu    sync.Mutex
	names map[int64]string
}

// NewKubernetesReplicaManager builds a client from the in-cluster config,
// falling back to the local kubeconfig when not running inside a pod.
func NewKubernetesReplicaManager(namespace, image string) (*KubernetesReplicaManager, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
		cfg, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &KubernetesReplicaManager{
		client:    client,
		namespace: namespace,
		image:     image,
		names:     make(map[int64]string),
	}, nil
}

func (k *KubernetesReplicaManager) Launch(ctx context.Context, spec interfaces.LaunchSpec) (int64, error) {
	id := atomic.AddInt64(&k.nextID, 1)
	name := fmt.Sprintf("fleetscale-replica-%d", id)

	replicas := int32(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.namespace,
			Labels: map[string]string{
				labelReplicaID:   fmt.Sprintf("%d", id),
				labelAccelerator: string(spec.Accelerator),
				labelPrimary:     fmt.Sprintf("%v", spec.IsPrimary),
				labelOwner:       fmt.Sprintf("%d", spec.OwnerReplicaID),
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{labelReplicaID: fmt.Sprintf("%d", id)},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						labelReplicaID:   fmt.Sprintf("%d", id),
						labelAccelerator: string(spec.Accelerator),
					},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "inference",
							Image: k.image,
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceName(fmt.Sprintf("nvidia.com/%s", spec.Accelerator)): *resourceQuantityOne(),
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := k.client.AppsV1().Deployments(k.namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		return 0, &autoscaler.TransientExternalError{Op: "k8s.CreateDeployment", Err: err}
	}

	k.mu.Lock()
	k.names[id] = name
	k.mu.Unlock()

	logger.InfoCtx(ctx, "created deployment %s for replica %d (%s, primary=%v)", name, id, spec.Accelerator, spec.IsPrimary)
	return id, nil
}

func (k *KubernetesReplicaManager) LaunchBundle(ctx context.Context, specs []interfaces.LaunchSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		id, err := k.Launch(ctx, spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (k *KubernetesReplicaManager) ScaleDown(ctx context.Context, replicaID int64) error {
	k.mu.Lock()
	name, ok := k.names[replicaID]
	delete(k.names, replicaID)
	k.mu.Unlock()

	if !ok {
		name = fmt.Sprintf("fleetscale-replica-%d", replicaID)
	}

	err := k.client.AppsV1().Deployments(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		logger.InfoCtx(ctx, "deployment %s for replica %d already gone", name, replicaID)
		return nil
	}
	if err != nil {
		return &autoscaler.TransientExternalError{Op: "k8s.DeleteDeployment", Err: err}
	}

	logger.InfoCtx(ctx, "deleted deployment %s for replica %d", name, replicaID)
	return nil
}
