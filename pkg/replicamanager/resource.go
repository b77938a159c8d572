package replicamanager

import "k8s.io/apimachinery/pkg/api/resource"

func resourceQuantityOne() *resource.Quantity {
	q := resource.MustParse("1")
	return &q
}
