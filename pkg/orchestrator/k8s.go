package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/internal/retry"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// KubeDriver is the client-go-backed implementation of Driver.
type KubeDriver struct {
	clientset kubernetes.Interface
	restCfg   *rest.Config
	logger    *slog.Logger
}

// NewKubeDriver builds a Driver from either an in-cluster config or a
// kubeconfig file path. inCluster takes precedence when true.
func NewKubeDriver(kubeconfigPath string, inCluster bool, logger *slog.Logger) (*KubeDriver, error) {
	var cfg *rest.Config
	var err error

	if inCluster {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes clientset: %w", err)
	}

	return &KubeDriver{clientset: cs, restCfg: cfg, logger: logger}, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) || apierrors.IsInvalid(err) {
		return &errkind.PermanentExternalError{Op: op, Err: err}
	}
	return &errkind.TransientExternalError{Op: op, Err: err}
}

func (k *KubeDriver) EnsureNamespace(ctx context.Context, tenantID string) (string, error) {
	name := tenant.Namespace(tenantID)
	err := retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		_, getErr := k.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
		if getErr == nil {
			return nil
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("EnsureNamespace.get", getErr)
		}

		ns := &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{
				Name:   name,
				Labels: map[string]string{"hostfleet.io/tenant-id": tenantID},
			},
		}
		_, createErr := k.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("EnsureNamespace.create", createErr)
		}
		return nil
	})
	return name, err
}

func (k *KubeDriver) EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (SecretRef, error) {
	ns := tenant.Namespace(tenantID)
	strData := make(map[string][]byte, len(data))
	for key, val := range data {
		strData[key] = []byte(val)
	}

	err := retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		secrets := k.clientset.CoreV1().Secrets(ns)
		existing, getErr := secrets.Get(ctx, name, metav1.GetOptions{})
		if getErr == nil {
			if secretDataEqual(existing.Data, strData) {
				return nil
			}
			existing.Data = strData
			_, updateErr := secrets.Update(ctx, existing, metav1.UpdateOptions{})
			return classify("EnsureSecret.update", updateErr)
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("EnsureSecret.get", getErr)
		}

		sec := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
			Data:       strData,
			Type:       corev1.SecretTypeOpaque,
		}
		_, createErr := secrets.Create(ctx, sec, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("EnsureSecret.create", createErr)
		}
		return nil
	})

	return SecretRef{Namespace: ns, Name: name}, err
}

func secretDataEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(v, b[k]) {
			return false
		}
	}
	return true
}

func (k *KubeDriver) EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (ConfigRef, error) {
	ns := tenant.Namespace(tenantID)

	err := retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		cms := k.clientset.CoreV1().ConfigMaps(ns)
		existing, getErr := cms.Get(ctx, name, metav1.GetOptions{})
		if getErr == nil {
			existing.Data = data
			_, updateErr := cms.Update(ctx, existing, metav1.UpdateOptions{})
			return classify("EnsureConfig.update", updateErr)
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("EnsureConfig.get", getErr)
		}

		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
			Data:       data,
		}
		_, createErr := cms.Create(ctx, cm, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("EnsureConfig.create", createErr)
		}
		return nil
	})

	return ConfigRef{Namespace: ns, Name: name}, err
}

func (k *KubeDriver) EnsureDatabaseDeployment(ctx context.Context, tenantID string, rootPass, userPass string) (ReadyRef, error) {
	ns := tenant.Namespace(tenantID)
	name := tenant.DatabaseDeploymentName(tenantID)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "mysql",
						Image: "mysql:8.0",
						Env: []corev1.EnvVar{
							{Name: "MYSQL_ROOT_PASSWORD", Value: rootPass},
							{Name: "MYSQL_PASSWORD", Value: userPass},
							{Name: "MYSQL_DATABASE", Value: "wordpress"},
							{Name: "MYSQL_USER", Value: "wp_" + tenantID},
						},
						Ports: []corev1.ContainerPort{{ContainerPort: 3306}},
					}},
				},
			},
		},
	}

	if err := k.applyDeployment(ctx, ns, deployment); err != nil {
		return ReadyRef{}, err
	}
	return ReadyRef{Namespace: ns, Name: name, Kind: "Deployment"}, nil
}

func (k *KubeDriver) EnsureWordPressDeployment(ctx context.Context, tenantID, domain string, adminUser, adminPassword string) (ReadyRef, error) {
	ns := tenant.Namespace(tenantID)
	name := tenant.WordPressDeploymentName(tenantID)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "wordpress",
						Image: "wordpress:6-php8.2-fpm",
						Env: []corev1.EnvVar{
							{Name: "WORDPRESS_DB_HOST", Value: tenant.DatabaseDeploymentName(tenantID)},
							{Name: "WORDPRESS_DB_USER", Value: "wp_" + tenantID},
						},
						Ports: []corev1.ContainerPort{{ContainerPort: 9000}},
					}},
				},
			},
		},
	}

	if err := k.applyDeployment(ctx, ns, deployment); err != nil {
		return ReadyRef{}, err
	}
	return ReadyRef{Namespace: ns, Name: name, Kind: "Deployment"}, nil
}

func (k *KubeDriver) applyDeployment(ctx context.Context, ns string, desired *appsv1.Deployment) error {
	return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		deployments := k.clientset.AppsV1().Deployments(ns)
		_, getErr := deployments.Get(ctx, desired.Name, metav1.GetOptions{})
		if getErr == nil {
			return nil // present; EnsureDatabaseDeployment/EnsureWordPressDeployment don't own field-level reconciliation beyond creation
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("applyDeployment.get", getErr)
		}

		_, createErr := deployments.Create(ctx, desired, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("applyDeployment.create", createErr)
		}
		return nil
	})
}

func (k *KubeDriver) WaitReady(ctx context.Context, ref ReadyRef, deadline time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		dep, err := k.clientset.AppsV1().Deployments(ref.Namespace).Get(waitCtx, ref.Name, metav1.GetOptions{})
		if err == nil && dep.Status.ReadyReplicas >= 1 {
			return nil
		}

		select {
		case <-waitCtx.Done():
			return &errkind.ProvisionTimeout{TenantID: ref.Namespace, Ref: ref.Name}
		case <-ticker.C:
		}
	}
}

func (k *KubeDriver) EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (IngressRef, error) {
	ns := tenant.Namespace(tenantID)
	name := "ingress-" + tenantID
	pathType := networkingv1.PathTypePrefix

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: networkingv1.IngressSpec{
			TLS: []networkingv1.IngressTLS{{Hosts: []string{domain}, SecretName: tlsSecretName}},
			Rules: []networkingv1.IngressRule{{
				Host: domain,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: tenant.WordPressDeploymentName(tenantID),
									Port: networkingv1.ServiceBackendPort{Number: 80},
								},
							},
						}},
					},
				},
			}},
		},
	}

	err := retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		ingresses := k.clientset.NetworkingV1().Ingresses(ns)
		_, getErr := ingresses.Get(ctx, name, metav1.GetOptions{})
		if getErr == nil {
			_, updateErr := ingresses.Update(ctx, ingress, metav1.UpdateOptions{})
			return classify("EnsureIngress.update", updateErr)
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("EnsureIngress.get", getErr)
		}
		_, createErr := ingresses.Create(ctx, ingress, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("EnsureIngress.create", createErr)
		}
		return nil
	})

	return IngressRef{Namespace: ns, Name: name, Host: domain}, err
}

// ScaleDeployment sets replicas on the named deployment (suspension/reactivation, §4.3).
func (k *KubeDriver) ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error {
	ns := tenant.Namespace(tenantID)
	return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		deployments := k.clientset.AppsV1().Deployments(ns)
		dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return classify("ScaleDeployment.get", err)
		}
		if dep.Spec.Replicas != nil && *dep.Spec.Replicas == replicas {
			return nil
		}
		dep.Spec.Replicas = int32Ptr(replicas)
		_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
		return classify("ScaleDeployment.update", err)
	})
}

func (k *KubeDriver) DeleteNamespace(ctx context.Context, tenantID string) error {
	name := tenant.Namespace(tenantID)
	err := k.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return &errkind.PermanentExternalError{Op: "DeleteNamespace", Err: err}
	}
	return nil
}

// ExecInPod resolves a pod by label selector within the tenant namespace and
// runs cmd against it over SPDY, matching the real execution path; podSelector
// is a Kubernetes label selector expression (e.g. "app=wp-<tenantID>").
func (k *KubeDriver) ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (ExecResult, error) {
	ns := tenant.Namespace(tenantID)

	pods, err := k.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: podSelector})
	if err != nil {
		return ExecResult{}, classify("ExecInPod.list", err)
	}
	if len(pods.Items) == 0 {
		return ExecResult{}, &errkind.PodNotFound{TenantID: tenantID, Selector: podSelector}
	}
	podName := pods.Items[0].Name
	containerName := pods.Items[0].Spec.Containers[0].Name

	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(ns).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   cmd,
			Stdin:     len(stdin) > 0,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(k.restCfg, "POST", req.URL())
	if err != nil {
		return ExecResult{}, &errkind.TransientExternalError{Op: "ExecInPod.executor", Err: err}
	}

	var stdout, stderr bytes.Buffer
	var stdinReader *bytes.Reader
	if len(stdin) > 0 {
		stdinReader = bytes.NewReader(stdin)
	}

	streamErr := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdinReaderOrNil(stdinReader),
		Stdout: &stdout,
		Stderr: &stderr,
	})

	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if streamErr != nil {
		if exitErr, ok := streamErr.(interface{ ExitStatus() int }); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, &errkind.ExecNonZero{Cmd: cmd, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return result, &errkind.TransientExternalError{Op: "ExecInPod.stream", Err: streamErr}
	}
	return result, nil
}

func stdinReaderOrNil(r *bytes.Reader) io.Reader {
	if r == nil {
		return nil
	}
	return r
}

// EnsureBackupCron materializes a daily CronJob that shells out to the
// control plane's backup trigger endpoint (the cron's job itself just pings
// back into this service — the actual backup logic lives in pkg/backup).
func (k *KubeDriver) EnsureBackupCron(ctx context.Context, tenantID, schedule string) error {
	ns := tenant.Namespace(tenantID)
	name := "backup-" + tenantID

	cron := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: batchv1.CronJobSpec{
			Schedule: schedule,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					Template: corev1.PodTemplateSpec{
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyOnFailure,
							Containers: []corev1.Container{{
								Name:  "trigger-backup",
								Image: "curlimages/curl:8.10.1",
								Args: []string{
									"-X", "POST",
									fmt.Sprintf("http://hostfleet-api.hostfleet-system.svc.cluster.local/system/tenants/%s/backups", tenantID),
								},
							}},
						},
					},
				},
			},
		},
	}

	return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		cronJobs := k.clientset.BatchV1().CronJobs(ns)
		_, getErr := cronJobs.Get(ctx, name, metav1.GetOptions{})
		if getErr == nil {
			return nil
		}
		if !apierrors.IsNotFound(getErr) {
			return classify("EnsureBackupCron.get", getErr)
		}
		_, createErr := cronJobs.Create(ctx, cron, metav1.CreateOptions{})
		if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
			return classify("EnsureBackupCron.create", createErr)
		}
		return nil
	})
}

func int32Ptr(v int32) *int32 { return &v }
